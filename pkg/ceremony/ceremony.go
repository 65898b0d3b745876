// Package ceremony issues, validates and voids the single-use signing
// tokens that gate access to a signing session. Token values never
// repeat: voiding and reassignment always mint a fresh value, so a
// leaked or voided token is dead forever.
package ceremony

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Signet-Labs/signet/pkg/contracts"
	"github.com/Signet-Labs/signet/pkg/ledger"
	"github.com/Signet-Labs/signet/pkg/notify"
)

// DefaultTTL is how long a signing token stays valid unless the caller
// asks otherwise.
const DefaultTTL = 72 * time.Hour

// tokenBytes gives 256 bits of entropy per token, comfortably past the
// unguessable bar.
const tokenBytes = 32

// SignerStore is the slice of envelope persistence the token manager
// needs: resolving and updating individual signers, and loading the
// envelope a signer belongs to so lifecycle gates apply.
type SignerStore interface {
	Get(ctx context.Context, envelopeID string) (*contracts.Envelope, error)
	GetSigner(ctx context.Context, signerID string) (*contracts.Signer, error)
	UpdateSigner(ctx context.Context, signer *contracts.Signer) error
	// FindSignerByToken scans for the signer currently holding the
	// token. Used when the token index has no answer.
	FindSignerByToken(ctx context.Context, token string) (*contracts.Signer, error)
}

// AssignedToken is the result of assigning a token to a signer.
type AssignedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Validation is the outcome of a token check. When Valid is false,
// Reason says exactly why; Signer is populated only on success.
type Validation struct {
	Valid  bool
	Signer *contracts.Signer
	Reason string
}

// Manager is the ceremony token manager.
type Manager struct {
	signers  SignerStore
	index    TokenIndex
	ledger   *ledger.Ledger
	notifier notify.Dispatcher
	limiter  *rate.Limiter
	logger   *slog.Logger
	ttl      time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithIndex replaces the default in-memory token index.
func WithIndex(idx TokenIndex) Option {
	return func(m *Manager) { m.index = idx }
}

// WithTTL sets the default token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithNotifier sets the outbound fact dispatcher.
func WithNotifier(d notify.Dispatcher) Option {
	return func(m *Manager) { m.notifier = d }
}

// WithValidationRate caps validation attempts per second, damping token
// guessing. Zero disables the limiter.
func WithValidationRate(perSecond float64, burst int) Option {
	return func(m *Manager) {
		if perSecond > 0 {
			m.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a token manager over the given signer store and
// audit ledger.
func NewManager(signers SignerStore, auditLog *ledger.Ledger, opts ...Option) *Manager {
	m := &Manager{
		signers:  signers,
		index:    NewMemoryIndex(),
		ledger:   auditLog,
		notifier: &notify.LogDispatcher{},
		logger:   slog.Default(),
		ttl:      DefaultTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateSigningToken mints a cryptographically random, globally
// unique token value.
func GenerateSigningToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ceremony: token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AssignToken issues a fresh token to the signer, overwriting any
// previous token and expiry. ttl <= 0 uses the manager default.
// Tokens exist only while the envelope is out for signing: a signer
// who already acted, or an envelope that is not sent or pending, is an
// IllegalStateError.
func (m *Manager) AssignToken(ctx context.Context, signerID string, ttl time.Duration) (*AssignedToken, error) {
	signer, err := m.signers.GetSigner(ctx, signerID)
	if err != nil {
		return nil, err
	}
	if signer.Status.Terminal() {
		return nil, &contracts.IllegalStateError{
			Reason: fmt.Sprintf("Signer has already %s", signer.Status),
		}
	}
	if err := m.requireOpenEnvelope(ctx, signer.EnvelopeID); err != nil {
		return nil, err
	}

	token, err := GenerateSigningToken()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = m.ttl
	}
	expiresAt := nowUTC().Add(ttl)

	previous := signer.SigningToken
	signer.SigningToken = token
	signer.TokenExpiresAt = &expiresAt
	if err := m.signers.UpdateSigner(ctx, signer); err != nil {
		return nil, err
	}

	if previous != "" {
		if err := m.index.Remove(ctx, previous); err != nil {
			m.logger.Warn("token index remove failed", "signer_id", signerID, "error", err)
		}
	}
	if err := m.index.Put(ctx, token, signerID, ttl); err != nil {
		// Index is an accelerator only; validation falls back to the store.
		m.logger.Warn("token index put failed", "signer_id", signerID, "error", err)
	}

	m.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: signer.EnvelopeID,
		SignerID:   signer.ID,
		EventType:  contracts.EventTokenAssigned,
		EventData:  map[string]any{"expires_at": expiresAt.Format(time.RFC3339)},
	})
	m.notifier.Dispatch(ctx, notify.Fact{
		Type:       notify.SignerReady,
		EnvelopeID: signer.EnvelopeID,
		SignerID:   signer.ID,
		OccurredAt: nowUTC(),
	})

	return &AssignedToken{Token: token, ExpiresAt: expiresAt}, nil
}

// ValidateToken checks whether a token currently grants a signing
// session. It never returns an error for a bad token: the outcome is a
// Validation with a precise reason, so callers can show it verbatim.
func (m *Manager) ValidateToken(ctx context.Context, token string) (Validation, error) {
	if m.limiter != nil && !m.limiter.Allow() {
		return Validation{Valid: false, Reason: "Too many validation attempts"}, nil
	}
	if token == "" {
		return Validation{Valid: false, Reason: "Token not found"}, nil
	}

	signer, err := m.resolveSigner(ctx, token)
	if err != nil {
		return Validation{}, err
	}
	// The signer record is authoritative: a stale index entry or a
	// token that was overwritten since issuance does not validate.
	if signer == nil || signer.SigningToken != token {
		return Validation{Valid: false, Reason: "Token not found"}, nil
	}
	if signer.TokenExpiresAt == nil || !signer.TokenExpiresAt.After(nowUTC()) {
		return Validation{Valid: false, Reason: "Token expired"}, nil
	}
	switch signer.Status {
	case contracts.SignerPending, contracts.SignerSent, contracts.SignerNotified:
	default:
		return Validation{Valid: false, Reason: fmt.Sprintf("Signer has already %s", signer.Status)}, nil
	}

	// The envelope gates every token it ever minted: voiding or
	// completing the envelope kills outstanding tokens immediately.
	env, err := m.signers.Get(ctx, signer.EnvelopeID)
	if err != nil {
		return Validation{}, err
	}
	if !envelopeOpen(env.Status) {
		return Validation{Valid: false, Reason: fmt.Sprintf("Envelope is not open for signing: %s", env.Status)}, nil
	}

	return Validation{Valid: true, Signer: signer}, nil
}

// envelopeOpen reports whether the envelope still accepts signing
// activity.
func envelopeOpen(status contracts.EnvelopeStatus) bool {
	return status == contracts.EnvelopeSent || status == contracts.EnvelopePending
}

func (m *Manager) requireOpenEnvelope(ctx context.Context, envelopeID string) error {
	env, err := m.signers.Get(ctx, envelopeID)
	if err != nil {
		return err
	}
	if !envelopeOpen(env.Status) {
		return &contracts.IllegalStateError{
			Reason: fmt.Sprintf("Envelope is not open for signing: %s", env.Status),
		}
	}
	return nil
}

func (m *Manager) resolveSigner(ctx context.Context, token string) (*contracts.Signer, error) {
	signerID, err := m.index.Lookup(ctx, token)
	if err != nil {
		m.logger.Warn("token index lookup failed, falling back to store scan", "error", err)
		signerID = ""
	}
	if signerID != "" {
		signer, err := m.signers.GetSigner(ctx, signerID)
		if err == nil {
			return signer, nil
		}
		var notFound *contracts.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	signer, err := m.signers.FindSignerByToken(ctx, token)
	if err != nil {
		var notFound *contracts.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return signer, nil
}

// RemindSigner nudges a signer who has not acted yet: it reissues the
// token when the current one is missing or expired, records a
// signer.reminded event and dispatches a ReminderDue fact. Reminding a
// signer who already acted is an IllegalStateError.
func (m *Manager) RemindSigner(ctx context.Context, signerID string) (*AssignedToken, error) {
	signer, err := m.signers.GetSigner(ctx, signerID)
	if err != nil {
		return nil, err
	}
	if signer.Status.Terminal() {
		return nil, &contracts.IllegalStateError{
			Reason: fmt.Sprintf("Cannot remind signer with status: %s", signer.Status),
		}
	}
	if err := m.requireOpenEnvelope(ctx, signer.EnvelopeID); err != nil {
		return nil, err
	}

	assigned := &AssignedToken{Token: signer.SigningToken}
	if signer.TokenExpiresAt != nil {
		assigned.ExpiresAt = *signer.TokenExpiresAt
	}
	if signer.SigningToken == "" || signer.TokenExpiresAt == nil || !signer.TokenExpiresAt.After(nowUTC()) {
		if assigned, err = m.AssignToken(ctx, signerID, 0); err != nil {
			return nil, err
		}
	}

	m.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: signer.EnvelopeID,
		SignerID:   signer.ID,
		EventType:  contracts.EventSignerReminded,
	})
	m.notifier.Dispatch(ctx, notify.Fact{
		Type:       notify.ReminderDue,
		EnvelopeID: signer.EnvelopeID,
		SignerID:   signer.ID,
		OccurredAt: nowUTC(),
	})
	return assigned, nil
}

// VoidToken clears the signer's token and expiry. The voided value
// never validates again; a later assignment issues a new value.
func (m *Manager) VoidToken(ctx context.Context, signerID string) error {
	signer, err := m.signers.GetSigner(ctx, signerID)
	if err != nil {
		return err
	}
	if signer.SigningToken == "" {
		return nil
	}

	old := signer.SigningToken
	signer.SigningToken = ""
	signer.TokenExpiresAt = nil
	if err := m.signers.UpdateSigner(ctx, signer); err != nil {
		return err
	}
	if err := m.index.Remove(ctx, old); err != nil {
		m.logger.Warn("token index remove failed", "signer_id", signerID, "error", err)
	}

	m.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: signer.EnvelopeID,
		SignerID:   signer.ID,
		EventType:  contracts.EventTokenVoided,
	})
	return nil
}

// nowUTC is a seam for tests.
var nowUTC = func() time.Time { return time.Now().UTC() }
