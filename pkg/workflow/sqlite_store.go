package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// SQLiteStore is an EnvelopeStore on a local SQLite database. Envelopes
// persist as JSON documents; a side table indexes signers and their
// current token so the ceremony manager's lookups stay O(1). Updates
// run in a transaction, keeping corrections all-or-nothing across
// process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the envelope database at path.
// Use ":memory:" for ephemeral stores.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("workflow: open envelope db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent transitions.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS envelopes (
			id     TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			data   TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS envelope_signers (
			signer_id   TEXT PRIMARY KEY,
			envelope_id TEXT NOT NULL REFERENCES envelopes(id),
			token       TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_signer_token ON envelope_signers(token) WHERE token != '';
	`)
	if err != nil {
		return fmt.Errorf("workflow: ensure schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, env *contracts.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("workflow: encode envelope: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("workflow: begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO envelopes (id, status, data) VALUES (?, ?, ?)`,
		env.ID, string(env.Status), string(data)); err != nil {
		return fmt.Errorf("workflow: insert envelope: %w", err)
	}
	if err := syncSigners(ctx, tx, env); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("workflow: commit create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, envelopeID string) (*contracts.Envelope, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM envelopes WHERE id = ?`, envelopeID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, &contracts.NotFoundError{Kind: "envelope", ID: envelopeID}
	}
	if err != nil {
		return nil, fmt.Errorf("workflow: read envelope: %w", err)
	}
	return decodeEnvelope(data)
}

func (s *SQLiteStore) Update(ctx context.Context, envelopeID string, mutate func(*contracts.Envelope) error) (*contracts.Envelope, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("workflow: begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var data string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM envelopes WHERE id = ?`, envelopeID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, &contracts.NotFoundError{Kind: "envelope", ID: envelopeID}
	}
	if err != nil {
		return nil, fmt.Errorf("workflow: read envelope: %w", err)
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	if err := mutate(env); err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode envelope: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE envelopes SET status = ?, data = ? WHERE id = ?`,
		string(env.Status), string(encoded), envelopeID); err != nil {
		return nil, fmt.Errorf("workflow: write envelope: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM envelope_signers WHERE envelope_id = ?`, envelopeID); err != nil {
		return nil, fmt.Errorf("workflow: refresh signer index: %w", err)
	}
	if err := syncSigners(ctx, tx, env); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("workflow: commit update: %w", err)
	}
	return env, nil
}

type execContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func syncSigners(ctx context.Context, tx execContext, env *contracts.Envelope) error {
	for _, signer := range env.Signers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO envelope_signers (signer_id, envelope_id, token) VALUES (?, ?, ?)
			 ON CONFLICT(signer_id) DO UPDATE SET token = excluded.token`,
			signer.ID, env.ID, signer.SigningToken); err != nil {
			return fmt.Errorf("workflow: index signer: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetSigner(ctx context.Context, signerID string) (*contracts.Signer, error) {
	var envelopeID string
	err := s.db.QueryRowContext(ctx,
		`SELECT envelope_id FROM envelope_signers WHERE signer_id = ?`, signerID).Scan(&envelopeID)
	if err == sql.ErrNoRows {
		return nil, &contracts.NotFoundError{Kind: "signer", ID: signerID}
	}
	if err != nil {
		return nil, fmt.Errorf("workflow: resolve signer: %w", err)
	}

	env, err := s.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	signer := env.FindSigner(signerID)
	if signer == nil {
		return nil, &contracts.NotFoundError{Kind: "signer", ID: signerID}
	}
	return signer, nil
}

func (s *SQLiteStore) UpdateSigner(ctx context.Context, signer *contracts.Signer) error {
	_, err := s.Update(ctx, signer.EnvelopeID, func(env *contracts.Envelope) error {
		for i, existing := range env.Signers {
			if existing.ID == signer.ID {
				cp := *signer
				env.Signers[i] = &cp
				return nil
			}
		}
		return &contracts.NotFoundError{Kind: "signer", ID: signer.ID}
	})
	return err
}

func (s *SQLiteStore) FindSignerByToken(ctx context.Context, token string) (*contracts.Signer, error) {
	if token == "" {
		return nil, &contracts.NotFoundError{Kind: "token", ID: token}
	}
	var signerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT signer_id FROM envelope_signers WHERE token = ?`, token).Scan(&signerID)
	if err == sql.ErrNoRows {
		return nil, &contracts.NotFoundError{Kind: "token", ID: token}
	}
	if err != nil {
		return nil, fmt.Errorf("workflow: resolve token: %w", err)
	}
	return s.GetSigner(ctx, signerID)
}

func decodeEnvelope(data string) (*contracts.Envelope, error) {
	var env contracts.Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("workflow: decode envelope: %w", err)
	}
	return &env, nil
}
