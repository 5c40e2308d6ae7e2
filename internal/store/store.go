package store

import (
	"context"
	"errors"

	"callhub/internal/session"
)

// Store is the persistence contract for call sessions.
//
// Rules:
// - Upsert is atomic per call_id: a write lands only when expectedVersion
//   matches the stored version (0 = create, the call must not exist yet).
//   Losers get ErrConflict and must reload before retrying.
// - Writes to different call_ids never block one another.
// - ListActive is a point-in-time snapshot, not a live cursor.

type Store interface {
	Get(ctx context.Context, callID string) (session.Session, error)

	// Upsert writes s if expectedVersion matches and returns the new version.
	Upsert(ctx context.Context, s session.Session, expectedVersion int64) (int64, error)

	Delete(ctx context.Context, callID string) error

	// ListActive returns every non-terminated session.
	ListActive(ctx context.Context) ([]session.Session, error)
}

var (
	ErrNotFound = errors.New("store: call session not found")
	ErrConflict = errors.New("store: version conflict")

	// ErrUnavailable wraps transient backend failures; callers may retry.
	ErrUnavailable = errors.New("store: backend unavailable")
)
