// Package notify defines the outbound facts the signing core emits.
// Delivery, retries and channel selection (email/SMS/WhatsApp) live
// entirely outside the core behind this interface.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FactType identifies what happened.
type FactType string

const (
	SignerReady       FactType = "signer_ready"
	ReminderDue       FactType = "reminder_due"
	EnvelopeCompleted FactType = "envelope_completed"
	EnvelopeVoided    FactType = "envelope_voided"
)

// Fact is an outbound notification fact. It carries identifiers only;
// the dispatcher resolves addresses and content on its side.
type Fact struct {
	Type       FactType  `json:"type"`
	EnvelopeID string    `json:"envelope_id"`
	SignerID   string    `json:"signer_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Dispatcher receives facts from the workflow engine and token manager.
// Implementations must not block the signing path; slow transports
// should buffer internally.
type Dispatcher interface {
	Dispatch(ctx context.Context, fact Fact)
}

// LogDispatcher writes facts to the structured log. Default when no
// external dispatcher is wired.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d *LogDispatcher) Dispatch(ctx context.Context, fact Fact) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification fact",
		"type", string(fact.Type),
		"envelope_id", fact.EnvelopeID,
		"signer_id", fact.SignerID)
}

// Recorder captures facts in memory for tests.
type Recorder struct {
	mu    sync.Mutex
	facts []Fact
}

func (r *Recorder) Dispatch(ctx context.Context, fact Fact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facts = append(r.facts, fact)
}

// Facts returns a copy of the captured facts.
func (r *Recorder) Facts() []Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Fact, len(r.facts))
	copy(out, r.facts)
	return out
}
