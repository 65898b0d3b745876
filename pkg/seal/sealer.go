package seal

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Signet-Labs/signet/pkg/canonicalize"
	"github.com/Signet-Labs/signet/pkg/contracts"
	"github.com/Signet-Labs/signet/pkg/ledger"
)

var tracer = otel.Tracer("signet/seal")

// EngineVersion is embedded in every metadata block and checked on
// verification. Bump the major version only for incompatible block
// layouts.
const EngineVersion = "1.0.0"

// SignatureAlgorithm names the detached signature scheme.
const SignatureAlgorithm = "RSA-PKCS1v15-SHA256"

const (
	sealBegin = "\n-----BEGIN SIGNET SEAL-----\n"
	sealEnd   = "\n-----END SIGNET SEAL-----\n"
)

// signedAttributes is the canonical structure the detached signature
// covers. Binding the digest to content type, signing time and the
// certificate prevents signature transplantation between artifacts.
type signedAttributes struct {
	ContentType     string `json:"content_type"`
	MessageDigest   string `json:"message_digest"`
	SigningTime     string `json:"signing_time"`
	CertFingerprint string `json:"certificate_fingerprint"`
}

// metadataBlock is the human-and-machine-readable description embedded
// between the seal markers. It carries everything a third party needs
// to verify the artifact without this system.
type metadataBlock struct {
	EngineVersion   string                      `json:"engine_version"`
	SealedAt        string                      `json:"sealed_at"`
	DocumentHash    string                      `json:"document_hash"`
	HashAlgorithm   string                      `json:"hash_algorithm"`
	SignatureAlg    string                      `json:"signature_algorithm"`
	ContentType     string                      `json:"content_type"`
	CertFingerprint string                      `json:"certificate_fingerprint"`
	CertSubject     string                      `json:"certificate_subject"`
	CertIssuer      string                      `json:"certificate_issuer"`
	Level           string                      `json:"eidas_level"`
	Evidence        []contracts.EvidenceSummary `json:"identity_evidence,omitempty"`
	Signature       string                      `json:"signature"`   // base64 detached signature
	Certificate     string                      `json:"certificate"` // PEM
}

// Sealer produces sealed artifacts. Construct one at process start and
// share it; the certificate is resolved once on first seal.
type Sealer struct {
	certs  CertificateProvider
	ledger *ledger.Ledger
	logger *slog.Logger
}

// SealerOption configures a Sealer.
type SealerOption func(*Sealer)

// WithSealLogger sets the operational logger.
func WithSealLogger(logger *slog.Logger) SealerOption {
	return func(s *Sealer) { s.logger = logger }
}

// NewSealer creates a sealing engine with the given certificate source.
func NewSealer(certs CertificateProvider, auditLog *ledger.Ledger, opts ...SealerOption) *Sealer {
	s := &Sealer{certs: certs, ledger: auditLog, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SealDocument seals rendered content for an envelope. The eIDAS level
// is simple when no identity evidence was supplied, advanced otherwise.
// Sealing happens exactly once per envelope and is never retried: a
// failure here is an integrity-relevant fault the caller must report,
// not paper over.
func (s *Sealer) SealDocument(ctx context.Context, envelopeID string, content []byte, evidence []contracts.IdentityEvidence) ([]byte, *contracts.SealedArtifact, error) {
	ctx, span := tracer.Start(ctx, "seal.SealDocument",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("envelope.id", envelopeID)),
	)
	defer span.End()

	key, cert, err := s.certs.Credentials()
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	sealedAt := nowUTC()
	documentHash := HashDocument(content)
	fingerprint := certFingerprint(cert)

	attrs := signedAttributes{
		ContentType:     "application/pdf",
		MessageDigest:   documentHash,
		SigningTime:     sealedAt.Format(time.RFC3339Nano),
		CertFingerprint: fingerprint,
	}
	signature, err := signAttributes(key, attrs)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	artifact := &contracts.SealedArtifact{
		DocumentHash:    documentHash,
		HashAlgorithm:   HashAlgorithm,
		SignatureAlg:    SignatureAlgorithm,
		Signature:       signature,
		Certificate:     EncodeCertPEM(cert),
		CertFingerprint: fingerprint,
		CertSubject:     cert.Subject.String(),
		CertIssuer:      cert.Issuer.String(),
		Level:           evidenceLevel(evidence),
		Evidence:        summarize(evidence),
		SealedAt:        sealedAt,
	}

	sealed, err := embedMetadata(content, artifact, attrs.ContentType)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	span.SetAttributes(
		attribute.String("seal.document_hash", documentHash),
		attribute.String("seal.eidas_level", string(artifact.Level)),
	)

	s.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: envelopeID,
		EventType:  contracts.EventEnvelopeSealed,
		EventData: map[string]any{
			"document_hash": documentHash,
			"eidas_level":   string(artifact.Level),
		},
	})
	return sealed, artifact, nil
}

func signAttributes(key *rsa.PrivateKey, attrs signedAttributes) ([]byte, error) {
	canonical, err := canonicalize.JCS(attrs)
	if err != nil {
		return nil, fmt.Errorf("seal: canonicalize signed attributes: %w", err)
	}
	digest := sha256.Sum256(canonical)
	signature, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("seal: sign attributes: %w", err)
	}
	return signature, nil
}

func verifyAttributes(cert *x509.Certificate, attrs signedAttributes, signature []byte) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return &contracts.IntegrityError{Op: "verify_seal", Reason: "certificate does not carry an RSA key"}
	}
	canonical, err := canonicalize.JCS(attrs)
	if err != nil {
		return fmt.Errorf("seal: canonicalize signed attributes: %w", err)
	}
	digest := sha256.Sum256(canonical)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return &contracts.IntegrityError{Op: "verify_seal", Reason: "detached signature does not verify"}
	}
	return nil
}

func evidenceLevel(evidence []contracts.IdentityEvidence) contracts.EIDASLevel {
	if len(evidence) == 0 {
		return contracts.LevelSimple
	}
	return contracts.LevelAdvanced
}

func summarize(evidence []contracts.IdentityEvidence) []contracts.EvidenceSummary {
	if len(evidence) == 0 {
		return nil
	}
	out := make([]contracts.EvidenceSummary, 0, len(evidence))
	for _, ev := range evidence {
		out = append(out, contracts.EvidenceSummary{
			SignerID:   ev.SignerID,
			Method:     ev.Method,
			Provider:   ev.Provider,
			VerifiedAt: ev.VerifiedAt,
		})
	}
	return out
}

func certFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func embedMetadata(content []byte, artifact *contracts.SealedArtifact, contentType string) ([]byte, error) {
	block := metadataBlock{
		EngineVersion:   EngineVersion,
		SealedAt:        artifact.SealedAt.Format(time.RFC3339Nano),
		DocumentHash:    artifact.DocumentHash,
		HashAlgorithm:   artifact.HashAlgorithm,
		SignatureAlg:    artifact.SignatureAlg,
		ContentType:     contentType,
		CertFingerprint: artifact.CertFingerprint,
		CertSubject:     artifact.CertSubject,
		CertIssuer:      artifact.CertIssuer,
		Level:           string(artifact.Level),
		Evidence:        artifact.Evidence,
		Signature:       base64.StdEncoding.EncodeToString(artifact.Signature),
		Certificate:     string(artifact.Certificate),
	}

	encoded, err := canonicalize.JCS(block)
	if err != nil {
		return nil, fmt.Errorf("seal: encode metadata block: %w", err)
	}

	sealed := make([]byte, 0, len(content)+len(sealBegin)+len(encoded)+len(sealEnd))
	sealed = append(sealed, content...)
	sealed = append(sealed, sealBegin...)
	sealed = append(sealed, encoded...)
	sealed = append(sealed, sealEnd...)
	return sealed, nil
}

// nowUTC is a seam for tests.
var nowUTC = func() time.Time { return time.Now().UTC() }
