package contracts

import "time"

// EventType categorizes audit events emitted by the signing core.
type EventType string

const (
	EventEnvelopeCreated   EventType = "envelope.created"
	EventEnvelopeSent      EventType = "envelope.sent"
	EventEnvelopeCorrected EventType = "envelope.corrected"
	EventEnvelopeCompleted EventType = "envelope.completed"
	EventEnvelopeVoided    EventType = "envelope.voided"
	EventEnvelopeExpired   EventType = "envelope.expired"
	EventEnvelopeSealed    EventType = "envelope.sealed"
	EventSignerViewed      EventType = "signer.viewed"
	EventSignerReminded    EventType = "signer.reminded"
	EventSignerCompleted   EventType = "signer.completed"
	EventSignerDeclined    EventType = "signer.declined"
	EventSignerDelayed     EventType = "signer.delayed"
	EventTokenAssigned     EventType = "token.assigned"
	EventTokenVoided       EventType = "token.voided"
	EventDocumentStored    EventType = "document.stored"
	EventLedgerDegraded    EventType = "ledger.degraded"
)

// AuditEvent is a single immutable entry in an envelope's evidence chain.
// EventHash covers the event's own fields plus PreviousHash, forming a
// singly linked hash chain per envelope (PreviousHash empty for the first
// event). Any retroactive edit breaks recomputation.
type AuditEvent struct {
	ID           string         `json:"id"`
	EnvelopeID   string         `json:"envelope_id"`
	SignerID     string         `json:"signer_id,omitempty"`
	EventType    EventType      `json:"event_type"`
	EventData    map[string]any `json:"event_data,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Geolocation  string         `json:"geolocation,omitempty"`
	EventHash    string         `json:"event_hash"`
	PreviousHash string         `json:"previous_hash,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
