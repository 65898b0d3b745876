package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// SQLiteStore is an embedded, durable EventStore. The unique index on
// (envelope_id, previous_hash) makes a forked chain unrepresentable:
// the losing writer of a race gets a constraint violation, reported as
// ErrChainConflict.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	envelope_id   TEXT NOT NULL,
	signer_id     TEXT NOT NULL DEFAULT '',
	event_type    TEXT NOT NULL,
	event_data    TEXT NOT NULL DEFAULT '',
	ip_address    TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	geolocation   TEXT NOT NULL DEFAULT '',
	event_hash    TEXT NOT NULL,
	previous_hash TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_envelope ON audit_events(envelope_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_signer   ON audit_events(signer_id, seq);
CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_chain ON audit_events(envelope_id, previous_hash);
`

// NewSQLiteStore opens (or creates) the ledger database at path.
// Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Append(ctx context.Context, ev *contracts.AuditEvent) error {
	dataJSON := ""
	if ev.EventData != nil {
		b, err := json.Marshal(ev.EventData)
		if err != nil {
			return fmt.Errorf("ledger: marshal event data: %w", err)
		}
		dataJSON = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var head sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT event_hash FROM audit_events WHERE envelope_id = ? ORDER BY seq DESC LIMIT 1`,
		ev.EnvelopeID).Scan(&head)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("ledger: read chain head: %w", err)
	}
	if head.String != ev.PreviousHash {
		return ErrChainConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, envelope_id, signer_id, event_type, event_data, ip_address, user_agent, geolocation, event_hash, previous_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EnvelopeID, ev.SignerID, string(ev.EventType), dataJSON,
		ev.IPAddress, ev.UserAgent, ev.Geolocation, ev.EventHash, ev.PreviousHash,
		ev.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrChainConflict
		}
		return fmt.Errorf("ledger: insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Head(ctx context.Context, envelopeID string) (string, error) {
	var head string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_hash FROM audit_events WHERE envelope_id = ? ORDER BY seq DESC LIMIT 1`,
		envelopeID).Scan(&head)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ledger: read chain head: %w", err)
	}
	return head, nil
}

func (s *SQLiteStore) ByEnvelope(ctx context.Context, envelopeID string) ([]*contracts.AuditEvent, error) {
	return s.query(ctx,
		`SELECT id, envelope_id, signer_id, event_type, event_data, ip_address, user_agent, geolocation, event_hash, previous_hash, created_at
		 FROM audit_events WHERE envelope_id = ? ORDER BY seq ASC`, envelopeID)
}

func (s *SQLiteStore) BySigner(ctx context.Context, signerID string) ([]*contracts.AuditEvent, error) {
	return s.query(ctx,
		`SELECT id, envelope_id, signer_id, event_type, event_data, ip_address, user_agent, geolocation, event_hash, previous_hash, created_at
		 FROM audit_events WHERE signer_id = ? ORDER BY seq ASC`, signerID)
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*contracts.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx,
		`SELECT id, envelope_id, signer_id, event_type, event_data, ip_address, user_agent, geolocation, event_hash, previous_hash, created_at
		 FROM audit_events ORDER BY seq DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*contracts.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.AuditEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
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

// rowScanner covers *sql.Rows and *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*contracts.AuditEvent, error) {
	var ev contracts.AuditEvent
	var eventType, dataJSON, createdAt string
	if err := row.Scan(&ev.ID, &ev.EnvelopeID, &ev.SignerID, &eventType, &dataJSON,
		&ev.IPAddress, &ev.UserAgent, &ev.Geolocation, &ev.EventHash, &ev.PreviousHash, &createdAt); err != nil {
		return nil, fmt.Errorf("ledger: scan event: %w", err)
	}
	ev.EventType = contracts.EventType(eventType)
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &ev.EventData); err != nil {
			return nil, fmt.Errorf("ledger: decode event data: %w", err)
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse event timestamp: %w", err)
	}
	ev.CreatedAt = ts
	return &ev, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
