package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"callhub/internal/session"
)

// Entry is an immutable, append-only record of one call event.
//
// Invariants:
// - Entries are never updated or deleted.
// - Seq is monotonic and gap-free per call_id, even under concurrent appends.
// - The raw payload snapshot is kept verbatim for later inspection.

type Entry struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	// Seq starts at 1 for each call.
	Seq int64 `json:"seq" db:"seq"`

	EventKind session.EventKind `json:"event_kind" db:"event_kind"`

	Payload json.RawMessage `json:"payload,omitempty" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Recorder is the persistence contract for call history.
//
// It MUST be append-only. No update or delete methods are provided.
type Recorder interface {
	// Append stores one event and returns its per-call sequence number.
	Append(ctx context.Context, callID string, kind session.EventKind, payload json.RawMessage) (int64, error)

	// ListForCall returns every entry for the call, ordered by Seq.
	ListForCall(ctx context.Context, callID string) ([]Entry, error)
}

var (
	ErrInvalidEntry = errors.New("history: invalid entry")

	// ErrUnavailable wraps transient backend failures; callers may retry.
	ErrUnavailable = errors.New("history: backend unavailable")
)
