package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// PostgresStore implements EventStore on PostgreSQL using an optimistic
// conditional insert: the INSERT only lands if the envelope's chain head
// still equals the event's PreviousHash. A lost race affects zero rows
// and is reported as ErrChainConflict for the caller to recompute.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing database handle. Schema is managed
// by migrations; see EnsureSchema for dev setups.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the audit_events table if missing. Intended for
// development; production uses migrations.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			seq           BIGSERIAL PRIMARY KEY,
			id            TEXT NOT NULL UNIQUE,
			envelope_id   TEXT NOT NULL,
			signer_id     TEXT NOT NULL DEFAULT '',
			event_type    TEXT NOT NULL,
			event_data    JSONB,
			ip_address    TEXT NOT NULL DEFAULT '',
			user_agent    TEXT NOT NULL DEFAULT '',
			geolocation   TEXT NOT NULL DEFAULT '',
			event_hash    TEXT NOT NULL,
			previous_hash TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_envelope ON audit_events(envelope_id, seq);
		CREATE INDEX IF NOT EXISTS idx_audit_signer   ON audit_events(signer_id, seq);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_chain ON audit_events(envelope_id, previous_hash);
	`)
	if err != nil {
		return fmt.Errorf("ledger: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, ev *contracts.AuditEvent) error {
	var dataJSON any
	if ev.EventData != nil {
		b, err := json.Marshal(ev.EventData)
		if err != nil {
			return fmt.Errorf("ledger: marshal event data: %w", err)
		}
		dataJSON = string(b)
	}

	// Single-statement conditional append: lands only while the chain
	// head still matches PreviousHash.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, envelope_id, signer_id, event_type, event_data, ip_address, user_agent, geolocation, event_hash, previous_hash, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE COALESCE((
			SELECT event_hash FROM audit_events
			WHERE envelope_id = $2
			ORDER BY seq DESC LIMIT 1
		), '') = $10`,
		ev.ID, ev.EnvelopeID, ev.SignerID, string(ev.EventType), dataJSON,
		ev.IPAddress, ev.UserAgent, ev.Geolocation, ev.EventHash, ev.PreviousHash, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: conditional append: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: append result: %w", err)
	}
	if n == 0 {
		return ErrChainConflict
	}
	return nil
}

func (s *PostgresStore) Head(ctx context.Context, envelopeID string) (string, error) {
	var head string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_hash FROM audit_events WHERE envelope_id = $1 ORDER BY seq DESC LIMIT 1`,
		envelopeID).Scan(&head)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ledger: read chain head: %w", err)
	}
	return head, nil
}

func (s *PostgresStore) ByEnvelope(ctx context.Context, envelopeID string) ([]*contracts.AuditEvent, error) {
	return s.query(ctx,
		`SELECT id, envelope_id, signer_id, event_type, event_data, ip_address, user_agent, geolocation, event_hash, previous_hash, created_at
		 FROM audit_events WHERE envelope_id = $1 ORDER BY seq ASC`, envelopeID)
}

func (s *PostgresStore) BySigner(ctx context.Context, signerID string) ([]*contracts.AuditEvent, error) {
	return s.query(ctx,
		`SELECT id, envelope_id, signer_id, event_type, event_data, ip_address, user_agent, geolocation, event_hash, previous_hash, created_at
		 FROM audit_events WHERE signer_id = $1 ORDER BY seq ASC`, signerID)
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*contracts.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx,
		`SELECT id, envelope_id, signer_id, event_type, event_data, ip_address, user_agent, geolocation, event_hash, previous_hash, created_at
		 FROM audit_events ORDER BY seq DESC LIMIT $1`, limit)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*contracts.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.AuditEvent
	for rows.Next() {
		ev, err := scanPGEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate events: %w", err)
	}
	return out, nil
}

func scanPGEvent(rows *sql.Rows) (*contracts.AuditEvent, error) {
	var ev contracts.AuditEvent
	var eventType string
	var dataJSON sql.NullString
	var createdAt time.Time
	if err := rows.Scan(&ev.ID, &ev.EnvelopeID, &ev.SignerID, &eventType, &dataJSON,
		&ev.IPAddress, &ev.UserAgent, &ev.Geolocation, &ev.EventHash, &ev.PreviousHash, &createdAt); err != nil {
		return nil, fmt.Errorf("ledger: scan event: %w", err)
	}
	ev.EventType = contracts.EventType(eventType)
	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &ev.EventData); err != nil {
			return nil, fmt.Errorf("ledger: decode event data: %w", err)
		}
	}
	ev.CreatedAt = createdAt.UTC()
	return &ev, nil
}
