// Package contracts defines the shared immutable record types of the
// signing core: envelopes, signers, routing rules, audit events and
// sealed-artifact metadata. Every other package speaks in these types.
package contracts

import "time"

// SigningOrder controls how signer eligibility advances.
type SigningOrder string

const (
	OrderSequential SigningOrder = "sequential"
	OrderParallel   SigningOrder = "parallel"
)

// EnvelopeStatus is the lifecycle state of an envelope.
// Legal transitions: draft→sent→{pending→completed | voided | expired}.
// completed, voided and expired are terminal.
type EnvelopeStatus string

const (
	EnvelopeDraft     EnvelopeStatus = "draft"
	EnvelopeSent      EnvelopeStatus = "sent"
	EnvelopePending   EnvelopeStatus = "pending"
	EnvelopeCompleted EnvelopeStatus = "completed"
	EnvelopeVoided    EnvelopeStatus = "voided"
	EnvelopeExpired   EnvelopeStatus = "expired"
)

// Terminal reports whether no further mutation of the envelope is permitted.
func (s EnvelopeStatus) Terminal() bool {
	return s == EnvelopeCompleted || s == EnvelopeVoided || s == EnvelopeExpired
}

// SignerStatus is the lifecycle state of a single signer.
type SignerStatus string

const (
	SignerPending   SignerStatus = "pending"
	SignerSent      SignerStatus = "sent"
	SignerNotified  SignerStatus = "notified"
	SignerViewed    SignerStatus = "viewed"
	SignerCompleted SignerStatus = "completed"
	SignerDeclined  SignerStatus = "declined"
	SignerDelayed   SignerStatus = "delayed"
)

// Terminal reports whether the signer has finished acting (success or decline).
func (s SignerStatus) Terminal() bool {
	return s == SignerCompleted || s == SignerDeclined
}

// Envelope bundles documents, signers and fields into one signing request.
type Envelope struct {
	ID           string         `json:"id"`
	Subject      string         `json:"subject"`
	SigningOrder SigningOrder   `json:"signing_order"`
	Status       EnvelopeStatus `json:"status"`
	Signers      []*Signer      `json:"signers"`
	Fields       []*Field       `json:"fields"`
	RoutingRules []RoutingRule  `json:"routing_rules,omitempty"`
	DocumentKey  string         `json:"document_key,omitempty"` // encrypted store key of the source document
	CreatedAt    time.Time      `json:"created_at"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Signer is owned exclusively by its envelope. Signers sharing an Order
// form a signing group that must all finish before the next order activates.
type Signer struct {
	ID             string       `json:"id"`
	EnvelopeID     string       `json:"envelope_id"`
	Name           string       `json:"name"`
	Email          string       `json:"email"`
	Order          int          `json:"order"`
	Status         SignerStatus `json:"status"`
	SigningToken   string       `json:"signing_token,omitempty"`
	TokenExpiresAt *time.Time   `json:"token_expires_at,omitempty"`
	DelayedUntil   *time.Time   `json:"delayed_until,omitempty"`
}

// Field is a fillable slot on the document, optionally bound to a signer.
type Field struct {
	ID       string `json:"id"`
	SignerID string `json:"signer_id,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type"` // signature, initials, text, date, checkbox
	Value    string `json:"value,omitempty"`
	Required bool   `json:"required"`
	Page     int    `json:"page,omitempty"`
}

// FindSigner returns the signer with the given ID, or nil.
func (e *Envelope) FindSigner(id string) *Signer {
	for _, s := range e.Signers {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// FindField returns the field with the given ID, or nil.
func (e *Envelope) FindField(id string) *Field {
	for _, f := range e.Fields {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy of the envelope. Corrections mutate a clone
// and swap it in atomically so a half-applied correction is never observable.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	cp.Signers = make([]*Signer, len(e.Signers))
	for i, s := range e.Signers {
		sc := *s
		if s.TokenExpiresAt != nil {
			t := *s.TokenExpiresAt
			sc.TokenExpiresAt = &t
		}
		if s.DelayedUntil != nil {
			t := *s.DelayedUntil
			sc.DelayedUntil = &t
		}
		cp.Signers[i] = &sc
	}
	cp.Fields = make([]*Field, len(e.Fields))
	for i, f := range e.Fields {
		fc := *f
		cp.Fields[i] = &fc
	}
	cp.RoutingRules = append([]RoutingRule(nil), e.RoutingRules...)
	if e.SentAt != nil {
		t := *e.SentAt
		cp.SentAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
