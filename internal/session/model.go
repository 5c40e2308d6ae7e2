package session

import (
	"encoding/json"
	"time"
)

// Session is the authoritative record of one call.
//
// Invariants:
// - CallID is the platform-issued identifier and the storage primary key.
// - State changes only through Apply (statemachine.go).
// - Version is the optimistic-concurrency token. A write succeeds only when
//   the expected version matches the stored one; callers reload and retry on
//   conflict. Version 0 means "not yet persisted".
//
// NOTE: This is a provider-agnostic core model. Bot- or app-specific fields
// belong in Payload, not in new columns here.

type Session struct {
	CallID    string    `json:"call_id" db:"call_id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Direction Direction `json:"direction" db:"direction"`

	State State `json:"state" db:"state"`

	// ResourceURL and CorrelationID are the opaque routing handles the
	// platform needs to address further commands at this call.
	ResourceURL   string `json:"resource_url,omitempty" db:"resource_url"`
	CorrelationID string `json:"correlation_id,omitempty" db:"correlation_id"`

	Participants []Participant `json:"participants,omitempty" db:"participants"`

	// Payload is an application-defined attachment. The core never inspects
	// it; use PayloadAs to read it with a concrete type.
	Payload json.RawMessage `json:"payload,omitempty" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Version int64 `json:"version" db:"version"`
}

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Participant describes one attendee of a call.
type Participant struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"display_name,omitempty"`
	Endpoint    EndpointKind `json:"endpoint"`
}

type EndpointKind string

const (
	EndpointApp   EndpointKind = "app"
	EndpointUser  EndpointKind = "user"
	EndpointPhone EndpointKind = "phone"
)

type State string

const (
	StateIdle         State = "idle"
	StateIncoming     State = "incoming"
	StateInitiating   State = "initiating"
	StateEstablishing State = "establishing"
	StateEstablished  State = "established"
	StateRedirecting  State = "redirecting"
	StateTerminating  State = "terminating"
	StateTerminated   State = "terminated"
)

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool { return s == StateTerminated }

// Active reports whether the session still represents an in-flight call.
func (s *Session) Active() bool { return !s.State.Terminal() }

// PayloadAs decodes the application payload into a concrete type.
func PayloadAs[T any](s Session) (T, error) {
	var out T
	if len(s.Payload) == 0 {
		return out, nil
	}
	err := json.Unmarshal(s.Payload, &out)
	return out, err
}

// WithPayload attaches an application payload, replacing any existing one.
func WithPayload(s Session, v any) (Session, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return s, err
	}
	s.Payload = raw
	return s, nil
}
