package seal

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// metadataSchema pins the shape of the embedded block, so verification
// rejects structurally damaged metadata before trusting any field.
const metadataSchema = `{
	"type": "object",
	"required": [
		"engine_version", "sealed_at", "document_hash", "hash_algorithm",
		"signature_algorithm", "certificate_fingerprint", "eidas_level",
		"signature", "certificate"
	],
	"properties": {
		"engine_version": {"type": "string", "minLength": 1},
		"sealed_at": {"type": "string", "minLength": 1},
		"document_hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
		"hash_algorithm": {"type": "string"},
		"signature_algorithm": {"type": "string"},
		"content_type": {"type": "string"},
		"certificate_fingerprint": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
		"certificate_subject": {"type": "string"},
		"certificate_issuer": {"type": "string"},
		"eidas_level": {"enum": ["simple", "advanced", "qualified"]},
		"identity_evidence": {"type": "array"},
		"signature": {"type": "string", "minLength": 1},
		"certificate": {"type": "string", "minLength": 1}
	}
}`

var compiledSchema = jsonschema.MustCompileString("sealed-metadata.json", metadataSchema)

// Verification is the outcome of checking a sealed artifact. It attests
// provenance of the seal itself; it says nothing about whether the
// certificate chains to a trusted root.
type Verification struct {
	Valid          bool
	DocumentHash   string
	HashMatches    bool
	SignatureValid bool
	EngineVersion  string
	Level          contracts.EIDASLevel
	CertSubject    string
	SealedAt       time.Time
	Reason         string
}

// VerifySealedDocument parses the embedded metadata block and checks it
// end to end: schema shape, engine-version compatibility, content
// digest, and the detached signature against the embedded certificate.
// A missing or malformed block is an IntegrityError; a well-formed
// block that fails a check yields Valid=false with the reason.
func VerifySealedDocument(sealed []byte) (*Verification, error) {
	content, blockJSON, err := splitSealed(sealed)
	if err != nil {
		return nil, err
	}

	var loose any
	if err := json.Unmarshal(blockJSON, &loose); err != nil {
		return nil, &contracts.IntegrityError{Op: "verify_seal", Reason: "metadata block is not valid JSON"}
	}
	if err := compiledSchema.Validate(loose); err != nil {
		return nil, &contracts.IntegrityError{Op: "verify_seal", Reason: fmt.Sprintf("metadata block rejected by schema: %v", err)}
	}

	var block metadataBlock
	if err := json.Unmarshal(blockJSON, &block); err != nil {
		return nil, &contracts.IntegrityError{Op: "verify_seal", Reason: "metadata block does not decode"}
	}

	v := &Verification{
		DocumentHash:  block.DocumentHash,
		EngineVersion: block.EngineVersion,
		Level:         contracts.EIDASLevel(block.Level),
		CertSubject:   block.CertSubject,
	}
	if sealedAt, err := time.Parse(time.RFC3339Nano, block.SealedAt); err == nil {
		v.SealedAt = sealedAt
	} else {
		v.Reason = "sealed_at is not a valid timestamp"
		return v, nil
	}

	if reason := checkEngineVersion(block.EngineVersion); reason != "" {
		v.Reason = reason
		return v, nil
	}

	v.HashMatches = VerifyHash(content, block.DocumentHash)
	if !v.HashMatches {
		v.Reason = "content does not match the sealed document hash"
		return v, nil
	}

	cert, err := parseCertPEM([]byte(block.Certificate))
	if err != nil {
		v.Reason = "embedded certificate does not parse"
		return v, nil
	}
	signature, err := base64.StdEncoding.DecodeString(block.Signature)
	if err != nil {
		v.Reason = "embedded signature is not valid base64"
		return v, nil
	}
	attrs := signedAttributes{
		ContentType:     block.ContentType,
		MessageDigest:   block.DocumentHash,
		SigningTime:     block.SealedAt,
		CertFingerprint: block.CertFingerprint,
	}
	if err := verifyAttributes(cert, attrs, signature); err != nil {
		v.Reason = "detached signature does not verify"
		return v, nil
	}
	v.SignatureValid = true
	v.Valid = true
	return v, nil
}

// checkEngineVersion accepts any block sealed by the same major version.
func checkEngineVersion(version string) string {
	sealedWith, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Sprintf("engine version %q is not valid semver", version)
	}
	current := semver.MustParse(EngineVersion)
	if sealedWith.Major() != current.Major() {
		return fmt.Sprintf("artifact sealed by incompatible engine version %s (this engine is %s)", version, EngineVersion)
	}
	return ""
}

func splitSealed(sealed []byte) (content, blockJSON []byte, err error) {
	begin := bytes.LastIndex(sealed, []byte(sealBegin))
	if begin < 0 {
		return nil, nil, &contracts.IntegrityError{Op: "verify_seal", Reason: "no seal metadata block found"}
	}
	rest := sealed[begin+len(sealBegin):]
	end := bytes.Index(rest, []byte(sealEnd))
	if end < 0 {
		return nil, nil, &contracts.IntegrityError{Op: "verify_seal", Reason: "seal metadata block is truncated"}
	}
	blockJSON = bytes.TrimSpace(rest[:end])
	if strings.TrimSpace(string(rest[end+len(sealEnd):])) != "" {
		return nil, nil, &contracts.IntegrityError{Op: "verify_seal", Reason: "trailing data after seal metadata block"}
	}
	return sealed[:begin], blockJSON, nil
}
