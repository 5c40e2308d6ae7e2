package reporting

import (
	"context"
	"errors"

	"callhub/internal/history"
	"callhub/internal/session"
	"callhub/internal/store"
)

// Service answers read-only questions over the state store and history.
// It never mutates either; retention and purging stay external.

type Service struct {
	store   store.Store
	history history.Recorder
}

func NewService(st store.Store, rec history.Recorder) *Service {
	return &Service{store: st, history: rec}
}

type Summary struct {
	ActiveCalls int `json:"active_calls"`

	ByState     map[session.State]int     `json:"by_state"`
	ByDirection map[session.Direction]int `json:"by_direction"`
}

// Summary aggregates the current active-call snapshot.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	if s.store == nil {
		return Summary{}, errors.New("reporting: store not configured")
	}

	sessions, err := s.store.ListActive(ctx)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		ByState:     make(map[session.State]int),
		ByDirection: make(map[session.Direction]int),
	}
	for _, c := range sessions {
		out.ActiveCalls++
		out.ByState[c.State]++
		if c.Direction != "" {
			out.ByDirection[c.Direction]++
		}
	}
	return out, nil
}

// CallDetail is one call's current record plus its full event trail.
type CallDetail struct {
	Session session.Session `json:"session"`
	History []history.Entry `json:"history"`
}

// Call returns the detail for one call_id; store.ErrNotFound passes through.
func (s *Service) Call(ctx context.Context, callID string) (CallDetail, error) {
	sess, err := s.store.Get(ctx, callID)
	if err != nil {
		return CallDetail{}, err
	}
	entries, err := s.history.ListForCall(ctx, callID)
	if err != nil {
		return CallDetail{}, err
	}
	return CallDetail{Session: sess, History: entries}, nil
}
