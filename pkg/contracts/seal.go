package contracts

import "time"

// EIDASLevel is the assurance level recorded in a sealed artifact.
type EIDASLevel string

const (
	LevelSimple   EIDASLevel = "simple"
	LevelAdvanced EIDASLevel = "advanced"
	// LevelQualified requires a TSP-backed QSCD signature.
	LevelQualified EIDASLevel = "qualified"
)

// IdentityEvidence is what an external identity-evidence provider reports
// for one signer. The sealing engine records it; it never verifies it.
type IdentityEvidence struct {
	SignerID     string         `json:"signer_id"`
	Verified     bool           `json:"verified"`
	Method       string         `json:"method"`   // e.g. "sms_otp", "bankid", "gov_id"
	Provider     string         `json:"provider"` // e.g. "onfido", "twilio"
	VerifiedAt   time.Time      `json:"verified_at"`
	EvidenceData map[string]any `json:"evidence_data,omitempty"`
}

// EvidenceSummary is the per-signer digest embedded in sealed metadata.
type EvidenceSummary struct {
	SignerID   string    `json:"signer_id"`
	Method     string    `json:"method"`
	Provider   string    `json:"provider"`
	VerifiedAt time.Time `json:"verified_at"`
}

// SealedArtifact is the derived value produced exactly once per envelope:
// the content digest, the detached signature over it, and the material a
// third party needs to verify the seal without this system.
type SealedArtifact struct {
	DocumentHash    string            `json:"document_hash"`
	HashAlgorithm   string            `json:"hash_algorithm"`
	SignatureAlg    string            `json:"signature_algorithm"`
	Signature       []byte            `json:"signature"`
	Certificate     []byte            `json:"certificate"` // PEM
	CertFingerprint string            `json:"certificate_fingerprint"`
	CertSubject     string            `json:"certificate_subject"`
	CertIssuer      string            `json:"certificate_issuer"`
	Level           EIDASLevel        `json:"eidas_level"`
	Evidence        []EvidenceSummary `json:"identity_evidence,omitempty"`
	SealedAt        time.Time         `json:"sealed_at"`
}
