// Package tsp abstracts the Trust Service Providers used for qualified
// electronic signatures. The sealing engine talks to one Provider
// interface; the concrete set {Swisscom, Namirial, None} is chosen by
// the factory from configuration, never by runtime type inspection.
package tsp

import (
	"context"
	"time"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// SessionStatus is the monotone QES ceremony state. A session only
// moves forward through the happy path; failed and expired are terminal.
type SessionStatus string

const (
	StatusInitiated         SessionStatus = "initiated"
	StatusIdentityPending   SessionStatus = "identity_pending"
	StatusIdentityVerified  SessionStatus = "identity_verified"
	StatusCertificateIssued SessionStatus = "certificate_issued"
	StatusSigningReady      SessionStatus = "signing_ready"
	StatusSigned            SessionStatus = "signed"
	StatusFailed            SessionStatus = "failed"
	StatusExpired           SessionStatus = "expired"
)

// rank orders the happy path; terminal failures sit outside it.
var rank = map[SessionStatus]int{
	StatusInitiated:         0,
	StatusIdentityPending:   1,
	StatusIdentityVerified:  2,
	StatusCertificateIssued: 3,
	StatusSigningReady:      4,
	StatusSigned:            5,
}

// Terminal reports whether the session can never advance again.
func (s SessionStatus) Terminal() bool {
	return s == StatusSigned || s == StatusFailed || s == StatusExpired
}

// CanAdvanceTo reports whether moving to next is a legal transition:
// strictly forward on the happy path, or into a terminal failure from
// any non-terminal state.
func (s SessionStatus) CanAdvanceTo(next SessionStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed || next == StatusExpired {
		return true
	}
	from, okFrom := rank[s]
	to, okTo := rank[next]
	return okFrom && okTo && to > from
}

// Session is one signer's qualified-signature ceremony at a provider.
type Session struct {
	ID          string        `json:"id"`
	Provider    string        `json:"provider"`
	SignerEmail string        `json:"signer_email"`
	Status      SessionStatus `json:"status"`
	Detail      string        `json:"detail,omitempty"`
	// IdentityVerificationURL is where the signer completes identity
	// proofing; empty once verification is done or when the provider
	// handles it out of band.
	IdentityVerificationURL string     `json:"identity_verification_url,omitempty"`
	ExpiresAt               *time.Time `json:"expires_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// QSCDSignature is the result of signing on the provider's qualified
// signature creation device, with the provenance the evidence trail
// records alongside the raw signature.
type QSCDSignature struct {
	Signature         []byte    `json:"signature"`
	Certificate       []byte    `json:"certificate"` // PEM
	Timestamp         time.Time `json:"timestamp"`
	TSPName           string    `json:"tsp_name"`
	CertificateSerial string    `json:"certificate_serial"`
	QSCDReference     string    `json:"qscd_reference"`
}

// InitiationRequest starts a QES ceremony for one signer.
type InitiationRequest struct {
	SignerEmail  string `json:"signer_email"`
	SignerName   string `json:"signer_name"`
	MobileNumber string `json:"mobile_number,omitempty"`
	DocumentHash string `json:"document_hash"`
}

// Provider is the qualified-signature capability. Implementations wrap
// one external TSP; every method returns a ProviderError on transport
// or provider-side failure.
type Provider interface {
	Name() string
	InitiateQES(ctx context.Context, req InitiationRequest) (*Session, error)
	CheckStatus(ctx context.Context, sessionID string) (*Session, error)
	// GetQualifiedCertificate returns the signer's qualified
	// certificate as PEM once the session reached certificate_issued.
	GetQualifiedCertificate(ctx context.Context, sessionID string) ([]byte, error)
	// SignWithQSCD signs the digest on the provider's qualified
	// signature creation device. Requires signing_ready.
	SignWithQSCD(ctx context.Context, sessionID string, digest []byte) (*QSCDSignature, error)
}

// advanceGuard rejects provider responses that would move a session
// backwards, which indicates a confused or replayed upstream state.
func advanceGuard(current, next SessionStatus, provider string) error {
	if current == next {
		return nil
	}
	if !current.CanAdvanceTo(next) {
		return &contracts.ProviderError{
			Provider: provider,
			Reason:   "session status moved backwards: " + string(current) + " -> " + string(next),
		}
	}
	return nil
}
