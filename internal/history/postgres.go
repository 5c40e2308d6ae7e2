package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"callhub/internal/session"
	"callhub/pkg/utils"
)

// PostgresRecorder persists history in the call_history table.
//
// Assumed schema:
//
//	CREATE TABLE call_history (
//	  id         TEXT PRIMARY KEY,
//	  call_id    TEXT NOT NULL,
//	  seq        BIGINT NOT NULL,
//	  event_kind TEXT NOT NULL,
//	  payload    JSONB,
//	  created_at TIMESTAMPTZ NOT NULL,
//	  UNIQUE (call_id, seq)
//	);
//
// Insert-only: no UPDATE or DELETE is ever issued against this table.
// Appends for the same call are serialized with a per-call advisory lock so
// sequence numbers stay gap-free; the unique (call_id, seq) constraint
// backstops the lock.
type PostgresRecorder struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db, clock: time.Now}
}

func (p *PostgresRecorder) Append(ctx context.Context, callID string, kind session.EventKind, payload json.RawMessage) (int64, error) {
	if callID == "" || kind == "" {
		return 0, ErrInvalidEntry
	}

	var body any
	if len(payload) > 0 {
		body = []byte(payload)
	}

	var seq int64
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Lock is transaction-scoped and released on commit/rollback.
		const lock = `SELECT pg_advisory_xact_lock(hashtext($1))`
		if _, err := tx.ExecContext(ctx, lock, callID); err != nil {
			return err
		}

		const next = `
SELECT COALESCE(MAX(seq), 0) + 1
FROM call_history
WHERE call_id = $1
`
		if err := tx.QueryRowContext(ctx, next, callID).Scan(&seq); err != nil {
			return err
		}

		const ins = `
INSERT INTO call_history (id, call_id, seq, event_kind, payload, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
		_, err := tx.ExecContext(ctx, ins,
			uuid.NewString(), callID, seq, kind, body, p.clock().UTC(),
		)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return seq, nil
}

func (p *PostgresRecorder) ListForCall(ctx context.Context, callID string) ([]Entry, error) {
	const q = `
SELECT id, call_id, seq, event_kind, payload, created_at
FROM call_history
WHERE call_id = $1
ORDER BY seq
`
	rows, err := p.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.CallID, &e.Seq, &e.EventKind, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}
