package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Signet-Labs/signet/pkg/canonicalize"
	"github.com/Signet-Labs/signet/pkg/contracts"
)

// appendRetries bounds how often LogEvent recomputes against a moved
// chain head before degrading.
const appendRetries = 5

// geoTimeout caps the best-effort geolocation lookup so a slow resolver
// can never stall the signing path.
const geoTimeout = 300 * time.Millisecond

// Entry is the caller-facing input to LogEvent.
type Entry struct {
	EnvelopeID string
	SignerID   string
	EventType  contracts.EventType
	EventData  map[string]any
	IPAddress  string
	UserAgent  string
}

// Failure is pushed onto the operational failure channel when a ledger
// write degrades. It exists so operators can supervise outages that the
// signing path deliberately survives.
type Failure struct {
	EnvelopeID string
	EventType  contracts.EventType
	Err        error
	At         time.Time
}

// Ledger appends hash-chained audit events and serves the read side.
type Ledger struct {
	store    EventStore
	geo      Geolocator
	logger   *slog.Logger
	failures chan Failure
	tracer   trace.Tracer
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithGeolocator sets the IP enrichment backend.
func WithGeolocator(g Geolocator) Option {
	return func(l *Ledger) { l.geo = g }
}

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates a Ledger over the given store.
func New(store EventStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		geo:      NoopGeolocator{},
		logger:   slog.Default(),
		failures: make(chan Failure, 64),
		tracer:   otel.Tracer("signet/ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Failures exposes the operational failure channel. Consumers that care
// about ledger durability drain it; nobody has to.
func (l *Ledger) Failures() <-chan Failure {
	return l.failures
}

// hashInput is the exact field set covered by an event hash. Keeping it
// a named struct pins the canonical JSON shape across versions.
type hashInput struct {
	EnvelopeID   string         `json:"envelope_id"`
	SignerID     string         `json:"signer_id,omitempty"`
	EventType    string         `json:"event_type"`
	EventData    map[string]any `json:"event_data,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	PreviousHash string         `json:"previous_hash,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

// ComputeEventHash recomputes an event's hash from its own stored fields
// and PreviousHash. Verification relies on this returning exactly what
// LogEvent stored.
func ComputeEventHash(ev *contracts.AuditEvent) (string, error) {
	return canonicalize.CanonicalHash(hashInput{
		EnvelopeID:   ev.EnvelopeID,
		SignerID:     ev.SignerID,
		EventType:    string(ev.EventType),
		EventData:    ev.EventData,
		IPAddress:    ev.IPAddress,
		PreviousHash: ev.PreviousHash,
		CreatedAt:    ev.CreatedAt.Format(time.RFC3339Nano),
	})
}

// LogEvent appends an event to the envelope's chain.
//
// Availability over durability: a persistent ledger outage must not
// block the signing flow, so write failures are not returned. They are
// logged, pushed to the Failures channel, and a synthetic placeholder
// event is handed back to the caller. This is the single place in the
// core where an error is deliberately swallowed.
func (l *Ledger) LogEvent(ctx context.Context, entry Entry) *contracts.AuditEvent {
	ctx, span := l.tracer.Start(ctx, "ledger.LogEvent",
		trace.WithAttributes(
			attribute.String("envelope.id", entry.EnvelopeID),
			attribute.String("event.type", string(entry.EventType)),
		))
	defer span.End()

	geo := l.lookupGeo(ctx, entry.IPAddress)

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		head, err := l.store.Head(ctx, entry.EnvelopeID)
		if err != nil {
			lastErr = err
			break
		}

		ev := &contracts.AuditEvent{
			ID:           uuid.New().String(),
			EnvelopeID:   entry.EnvelopeID,
			SignerID:     entry.SignerID,
			EventType:    entry.EventType,
			EventData:    entry.EventData,
			IPAddress:    entry.IPAddress,
			UserAgent:    entry.UserAgent,
			Geolocation:  geo,
			PreviousHash: head,
			CreatedAt:    nowUTC(),
		}
		ev.EventHash, err = ComputeEventHash(ev)
		if err != nil {
			lastErr = err
			break
		}

		err = l.store.Append(ctx, ev)
		if err == nil {
			return ev
		}
		if err == ErrChainConflict {
			// Another writer advanced the chain; recompute, don't re-send.
			lastErr = err
			continue
		}
		lastErr = err
		break
	}

	return l.degrade(entry, lastErr)
}

// degrade reports a failed write and returns a placeholder so callers in
// the signing path never fail because the ledger failed.
func (l *Ledger) degrade(entry Entry, cause error) *contracts.AuditEvent {
	l.logger.Error("audit ledger write degraded",
		"envelope_id", entry.EnvelopeID,
		"event_type", string(entry.EventType),
		"error", cause)

	select {
	case l.failures <- Failure{EnvelopeID: entry.EnvelopeID, EventType: entry.EventType, Err: cause, At: nowUTC()}:
	default:
		// Channel full: the slog line above is the last resort.
	}

	return &contracts.AuditEvent{
		ID:         uuid.New().String(),
		EnvelopeID: entry.EnvelopeID,
		SignerID:   entry.SignerID,
		EventType:  entry.EventType,
		EventData:  map[string]any{"degraded": true, "error": fmt.Sprint(cause)},
		CreatedAt:  nowUTC(),
	}
}

func (l *Ledger) lookupGeo(ctx context.Context, ip string) string {
	if ip == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, geoTimeout)
	defer cancel()

	geo, err := l.geo.Lookup(ctx, ip)
	if err != nil {
		// Enrichment is best-effort; absence never fails the write.
		return ""
	}
	return geo
}

// EventsForEnvelope returns the envelope's events, ascending by creation.
func (l *Ledger) EventsForEnvelope(ctx context.Context, envelopeID string) ([]*contracts.AuditEvent, error) {
	return l.store.ByEnvelope(ctx, envelopeID)
}

// EventsForSigner returns the signer's events, ascending by creation.
func (l *Ledger) EventsForSigner(ctx context.Context, signerID string) ([]*contracts.AuditEvent, error) {
	return l.store.BySigner(ctx, signerID)
}

// RecentEvents returns the most recent events across envelopes.
func (l *Ledger) RecentEvents(ctx context.Context, limit int) ([]*contracts.AuditEvent, error) {
	return l.store.Recent(ctx, limit)
}

// VerifyChain recomputes every hash in the envelope's chain and checks
// the linkage. A mismatch or fork surfaces as an IntegrityError.
func (l *Ledger) VerifyChain(ctx context.Context, envelopeID string) error {
	events, err := l.store.ByEnvelope(ctx, envelopeID)
	if err != nil {
		return fmt.Errorf("ledger: failed to load chain: %w", err)
	}

	expectedPrev := ""
	for i, ev := range events {
		if ev.PreviousHash != expectedPrev {
			return &contracts.IntegrityError{
				Op:     "verify_chain",
				Reason: fmt.Sprintf("event %d previous_hash %q does not link to %q", i, ev.PreviousHash, expectedPrev),
			}
		}
		computed, err := ComputeEventHash(ev)
		if err != nil {
			return fmt.Errorf("ledger: hash recomputation failed at event %d: %w", i, err)
		}
		if computed != ev.EventHash {
			return &contracts.IntegrityError{
				Op:     "verify_chain",
				Reason: fmt.Sprintf("event %d hash mismatch (stored %s, computed %s)", i, ev.EventHash, computed),
			}
		}
		expectedPrev = ev.EventHash
	}
	return nil
}
