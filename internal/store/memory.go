package store

import (
	"context"
	"sync"

	"callhub/internal/session"
)

// MemoryStore keeps sessions in a process-local map. State is lost on
// restart; intended for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]session.Session)}
}

func (m *MemoryStore) Get(ctx context.Context, callID string) (session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	if !ok {
		return session.Session{}, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) Upsert(ctx context.Context, s session.Session, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.sessions[s.CallID]
	switch {
	case !exists && expectedVersion != 0:
		return 0, ErrConflict
	case exists && cur.Version != expectedVersion:
		return 0, ErrConflict
	}

	s.Version = expectedVersion + 1
	m.sessions[s.CallID] = clone(s)
	return s.Version, nil
}

func (m *MemoryStore) Delete(ctx context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[callID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, callID)
	return nil
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Active() {
			out = append(out, clone(s))
		}
	}
	return out, nil
}

// clone guards against callers mutating shared slices after a read.
func clone(s session.Session) session.Session {
	out := s
	if s.Participants != nil {
		out.Participants = make([]session.Participant, len(s.Participants))
		copy(out.Participants, s.Participants)
	}
	if s.Payload != nil {
		out.Payload = append([]byte(nil), s.Payload...)
	}
	return out
}
