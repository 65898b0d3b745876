package workflow

import (
	"context"
	"sync"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// EnvelopeStore persists envelopes and their signers. Update applies a
// mutation atomically: the callback works on an isolated copy and the
// swap happens only if it returns nil, so a failed mutation is never
// observable. The signer accessors exist so the ceremony token manager
// can resolve signers without knowing about envelopes.
type EnvelopeStore interface {
	Create(ctx context.Context, env *contracts.Envelope) error
	Get(ctx context.Context, envelopeID string) (*contracts.Envelope, error)
	Update(ctx context.Context, envelopeID string, mutate func(*contracts.Envelope) error) (*contracts.Envelope, error)

	GetSigner(ctx context.Context, signerID string) (*contracts.Signer, error)
	UpdateSigner(ctx context.Context, signer *contracts.Signer) error
	FindSignerByToken(ctx context.Context, token string) (*contracts.Signer, error)
}

// MemoryStore is the in-process EnvelopeStore. The mutex serializes
// state transitions per store; mutations on different envelopes are
// short critical sections, so contention is acceptable for a single node.
type MemoryStore struct {
	mu        sync.RWMutex
	envelopes map[string]*contracts.Envelope
	signerEnv map[string]string // signer ID -> envelope ID
}

// NewMemoryStore creates an empty in-memory envelope store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		envelopes: make(map[string]*contracts.Envelope),
		signerEnv: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, env *contracts.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.envelopes[env.ID]; exists {
		return &contracts.ValidationError{Field: "id", Reason: "envelope already exists: " + env.ID}
	}
	cp := env.Clone()
	s.envelopes[env.ID] = cp
	for _, signer := range cp.Signers {
		s.signerEnv[signer.ID] = env.ID
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, envelopeID string) (*contracts.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.envelopes[envelopeID]
	if !ok {
		return nil, &contracts.NotFoundError{Kind: "envelope", ID: envelopeID}
	}
	return env.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, envelopeID string, mutate func(*contracts.Envelope) error) (*contracts.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[envelopeID]
	if !ok {
		return nil, &contracts.NotFoundError{Kind: "envelope", ID: envelopeID}
	}

	// Mutate a clone and swap it in whole, so an error mid-mutation
	// leaves the stored envelope untouched.
	next := env.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	s.envelopes[envelopeID] = next
	for id := range s.signerEnv {
		if s.signerEnv[id] == envelopeID && next.FindSigner(id) == nil {
			delete(s.signerEnv, id)
		}
	}
	for _, signer := range next.Signers {
		s.signerEnv[signer.ID] = envelopeID
	}
	return next.Clone(), nil
}

func (s *MemoryStore) GetSigner(ctx context.Context, signerID string) (*contracts.Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupSigner(signerID)
}

func (s *MemoryStore) lookupSigner(signerID string) (*contracts.Signer, error) {
	envID, ok := s.signerEnv[signerID]
	if !ok {
		return nil, &contracts.NotFoundError{Kind: "signer", ID: signerID}
	}
	signer := s.envelopes[envID].FindSigner(signerID)
	if signer == nil {
		return nil, &contracts.NotFoundError{Kind: "signer", ID: signerID}
	}
	cp := *signer
	return &cp, nil
}

func (s *MemoryStore) UpdateSigner(ctx context.Context, signer *contracts.Signer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	envID, ok := s.signerEnv[signer.ID]
	if !ok {
		return &contracts.NotFoundError{Kind: "signer", ID: signer.ID}
	}
	env := s.envelopes[envID]
	for i, existing := range env.Signers {
		if existing.ID == signer.ID {
			cp := *signer
			env.Signers[i] = &cp
			return nil
		}
	}
	return &contracts.NotFoundError{Kind: "signer", ID: signer.ID}
}

func (s *MemoryStore) FindSignerByToken(ctx context.Context, token string) (*contracts.Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, env := range s.envelopes {
		for _, signer := range env.Signers {
			if signer.SigningToken != "" && signer.SigningToken == token {
				cp := *signer
				return &cp, nil
			}
		}
	}
	return nil, &contracts.NotFoundError{Kind: "token", ID: token}
}
