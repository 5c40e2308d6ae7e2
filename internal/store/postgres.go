package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"callhub/internal/session"
)

// PostgresStore persists sessions in the call_sessions table, one row per
// call_id, versioned for optimistic concurrency.
//
// Assumed schema:
//
//	CREATE TABLE call_sessions (
//	  call_id        TEXT PRIMARY KEY,
//	  tenant_id      TEXT NOT NULL,
//	  direction      TEXT NOT NULL DEFAULT '',
//	  state          TEXT NOT NULL,
//	  resource_url   TEXT NOT NULL DEFAULT '',
//	  correlation_id TEXT NOT NULL DEFAULT '',
//	  participants   JSONB NOT NULL DEFAULT '[]',
//	  payload        JSONB,
//	  version        BIGINT NOT NULL,
//	  created_at     TIMESTAMPTZ NOT NULL,
//	  updated_at     TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Get(ctx context.Context, callID string) (session.Session, error) {
	const q = `
SELECT call_id, tenant_id, direction, state, resource_url, correlation_id,
       participants, payload, version, created_at, updated_at
FROM call_sessions
WHERE call_id = $1
`
	var (
		s            session.Session
		participants []byte
		payload      []byte
	)
	err := p.db.QueryRowContext(ctx, q, callID).Scan(
		&s.CallID,
		&s.TenantID,
		&s.Direction,
		&s.State,
		&s.ResourceURL,
		&s.CorrelationID,
		&participants,
		&payload,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, ErrNotFound
		}
		return session.Session{}, unavailable(err)
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &s.Participants); err != nil {
			return session.Session{}, fmt.Errorf("store: decode participants: %w", err)
		}
	}
	if len(payload) > 0 {
		s.Payload = json.RawMessage(payload)
	}
	return s, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, s session.Session, expectedVersion int64) (int64, error) {
	participants, err := json.Marshal(s.Participants)
	if err != nil {
		return 0, fmt.Errorf("store: encode participants: %w", err)
	}
	var payload any
	if len(s.Payload) > 0 {
		payload = []byte(s.Payload)
	}

	if expectedVersion == 0 {
		const q = `
INSERT INTO call_sessions (
  call_id, tenant_id, direction, state, resource_url, correlation_id,
  participants, payload, version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,$9,$10)
ON CONFLICT (call_id) DO NOTHING
`
		res, err := p.db.ExecContext(ctx, q,
			s.CallID, s.TenantID, s.Direction, s.State, s.ResourceURL, s.CorrelationID,
			participants, payload, s.CreatedAt, s.UpdatedAt,
		)
		if err != nil {
			return 0, unavailable(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, unavailable(err)
		}
		if n == 0 {
			return 0, ErrConflict
		}
		return 1, nil
	}

	const q = `
UPDATE call_sessions
SET tenant_id = $2, direction = $3, state = $4, resource_url = $5,
    correlation_id = $6, participants = $7, payload = $8,
    version = version + 1, updated_at = $9
WHERE call_id = $1 AND version = $10
RETURNING version
`
	var newVersion int64
	err = p.db.QueryRowContext(ctx, q,
		s.CallID, s.TenantID, s.Direction, s.State, s.ResourceURL, s.CorrelationID,
		participants, payload, s.UpdatedAt, expectedVersion,
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Row missing or version moved; either way the caller must reload.
			return 0, ErrConflict
		}
		return 0, unavailable(err)
	}
	return newVersion, nil
}

func (p *PostgresStore) Delete(ctx context.Context, callID string) error {
	const q = `DELETE FROM call_sessions WHERE call_id = $1`
	res, err := p.db.ExecContext(ctx, q, callID)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListActive(ctx context.Context) ([]session.Session, error) {
	const q = `
SELECT call_id, tenant_id, direction, state, resource_url, correlation_id,
       participants, payload, version, created_at, updated_at
FROM call_sessions
WHERE state <> $1
ORDER BY created_at
`
	rows, err := p.db.QueryContext(ctx, q, session.StateTerminated)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		var (
			s            session.Session
			participants []byte
			payload      []byte
		)
		if err := rows.Scan(
			&s.CallID, &s.TenantID, &s.Direction, &s.State, &s.ResourceURL,
			&s.CorrelationID, &participants, &payload, &s.Version,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, unavailable(err)
		}
		if len(participants) > 0 {
			if err := json.Unmarshal(participants, &s.Participants); err != nil {
				return nil, fmt.Errorf("store: decode participants: %w", err)
			}
		}
		if len(payload) > 0 {
			s.Payload = json.RawMessage(payload)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
