// Package ledger implements the append-only, hash-chained audit ledger.
// Every state transition in the signing core logs through here; each
// envelope's events form a singly linked hash chain so any retroactive
// edit is detectable.
package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// ErrChainConflict is returned by Append when the event's PreviousHash
// no longer matches the stored chain head — a concurrent writer won the
// race. Callers recompute the hash against the new head and retry;
// blindly re-sending the same write would fork the chain.
var ErrChainConflict = errors.New("ledger: chain head moved, recompute and retry")

// EventStore persists audit events. Append is conditional: the event's
// PreviousHash must equal the current chain head for its envelope.
type EventStore interface {
	Append(ctx context.Context, ev *contracts.AuditEvent) error
	// Head returns the event hash of the latest event for the envelope,
	// or "" if the envelope has no events yet.
	Head(ctx context.Context, envelopeID string) (string, error)
	// ByEnvelope returns the envelope's events in ascending creation order.
	ByEnvelope(ctx context.Context, envelopeID string) ([]*contracts.AuditEvent, error)
	// BySigner returns events attributed to a signer, ascending.
	BySigner(ctx context.Context, signerID string) ([]*contracts.AuditEvent, error)
	// Recent returns the most recent events across all envelopes,
	// newest first, at most limit.
	Recent(ctx context.Context, limit int) ([]*contracts.AuditEvent, error)
}

// MemoryStore is an in-memory EventStore. The mutex is the per-envelope
// serialization point: the head check and the append happen under one
// critical section, so two racing writers can never both observe the
// same PreviousHash and commit.
type MemoryStore struct {
	mu       sync.RWMutex
	byEnv    map[string][]*contracts.AuditEvent
	heads    map[string]string
	sequence []*contracts.AuditEvent
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEnv: make(map[string][]*contracts.AuditEvent),
		heads: make(map[string]string),
	}
}

func (s *MemoryStore) Append(ctx context.Context, ev *contracts.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heads[ev.EnvelopeID] != ev.PreviousHash {
		return ErrChainConflict
	}

	cp := *ev
	s.byEnv[ev.EnvelopeID] = append(s.byEnv[ev.EnvelopeID], &cp)
	s.heads[ev.EnvelopeID] = ev.EventHash
	s.sequence = append(s.sequence, &cp)
	return nil
}

func (s *MemoryStore) Head(ctx context.Context, envelopeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heads[envelopeID], nil
}

func (s *MemoryStore) ByEnvelope(ctx context.Context, envelopeID string) ([]*contracts.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byEnv[envelopeID]
	out := make([]*contracts.AuditEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *MemoryStore) BySigner(ctx context.Context, signerID string) ([]*contracts.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*contracts.AuditEvent
	for _, ev := range s.sequence {
		if ev.SignerID == signerID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]*contracts.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.sequence)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*contracts.AuditEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.sequence[i])
	}
	return out, nil
}

// nowUTC is a seam for tests.
var nowUTC = func() time.Time { return time.Now().UTC() }
