package seal_test

import (
	"context"
	"crypto/rsa"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-Labs/signet/pkg/contracts"
	"github.com/Signet-Labs/signet/pkg/ledger"
	"github.com/Signet-Labs/signet/pkg/seal"
)

// emptySHA256 is the well-known digest of zero bytes.
const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func newTestSealer(t *testing.T) (*seal.Sealer, *ledger.Ledger) {
	t.Helper()
	auditLog := ledger.New(ledger.NewMemoryStore())
	sealer := seal.NewSealer(&seal.SelfSignedProvider{}, auditLog)
	return sealer, auditLog
}

func TestHashDocument(t *testing.T) {
	assert.Equal(t, emptySHA256, seal.HashDocument(nil))
	assert.Equal(t, emptySHA256, seal.HashDocument([]byte{}))

	content := []byte("final contract bytes")
	first := seal.HashDocument(content)
	assert.Equal(t, first, seal.HashDocument(content))
	assert.True(t, seal.VerifyHash(content, first))

	// Any single-bit change moves the digest.
	flipped := append([]byte(nil), content...)
	flipped[0] ^= 0x01
	assert.NotEqual(t, first, seal.HashDocument(flipped))
	assert.False(t, seal.VerifyHash(flipped, first))
}

func TestSealAndVerifyRoundTrip(t *testing.T) {
	sealer, auditLog := newTestSealer(t)
	ctx := context.Background()
	content := []byte("%PDF-1.7 rendered contract")

	evidence := []contracts.IdentityEvidence{{
		SignerID:   "signer-1",
		Verified:   true,
		Method:     "sms_otp",
		Provider:   "twilio",
		VerifiedAt: time.Now().UTC(),
	}}

	sealed, artifact, err := sealer.SealDocument(ctx, "env-1", content, evidence)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, seal.HashDocument(content), artifact.DocumentHash)
	assert.Equal(t, contracts.LevelAdvanced, artifact.Level)
	require.Len(t, artifact.Evidence, 1)
	assert.Equal(t, "sms_otp", artifact.Evidence[0].Method)
	assert.Contains(t, string(artifact.Certificate), "BEGIN CERTIFICATE")

	v, err := seal.VerifySealedDocument(sealed)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.True(t, v.HashMatches)
	assert.True(t, v.SignatureValid)
	assert.Equal(t, artifact.DocumentHash, v.DocumentHash)
	assert.Equal(t, contracts.LevelAdvanced, v.Level)
	assert.Contains(t, v.CertSubject, "Signet Development Sealing")

	events, err := auditLog.EventsForEnvelope(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, contracts.EventEnvelopeSealed, events[0].EventType)
}

func TestSealWithoutEvidenceIsSimple(t *testing.T) {
	sealer, _ := newTestSealer(t)

	_, artifact, err := sealer.SealDocument(context.Background(), "env-1", []byte("doc"), nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.LevelSimple, artifact.Level)
	assert.Empty(t, artifact.Evidence)
}

func TestSealingTwiceSameHashDifferentSignature(t *testing.T) {
	sealer, _ := newTestSealer(t)
	ctx := context.Background()
	content := []byte("identical content")

	_, first, err := sealer.SealDocument(ctx, "env-1", content, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, second, err := sealer.SealDocument(ctx, "env-2", content, nil)
	require.NoError(t, err)

	assert.Equal(t, first.DocumentHash, second.DocumentHash)
	assert.NotEqual(t, first.SealedAt, second.SealedAt)
	assert.NotEqual(t, first.Signature, second.Signature,
		"signing time is an authenticated attribute, so signatures must differ")
}

func TestVerifyDetectsTamperedContent(t *testing.T) {
	sealer, _ := newTestSealer(t)

	sealed, _, err := sealer.SealDocument(context.Background(), "env-1", []byte("agreed terms"), nil)
	require.NoError(t, err)

	sealed[0] ^= 0x01
	v, err := seal.VerifySealedDocument(sealed)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.False(t, v.HashMatches)
	assert.Contains(t, v.Reason, "does not match")
}

func TestVerifyRejectsMissingBlock(t *testing.T) {
	_, err := seal.VerifySealedDocument([]byte("just some bytes"))
	var integrity *contracts.IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "verify_seal", integrity.Op)
}

func TestVerifyRejectsDamagedMetadata(t *testing.T) {
	sealer, _ := newTestSealer(t)

	sealed, _, err := sealer.SealDocument(context.Background(), "env-1", []byte("doc"), nil)
	require.NoError(t, err)

	// Corrupt the metadata JSON without touching the markers.
	damaged := strings.Replace(string(sealed), `"document_hash"`, `"document_hsah"`, 1)
	_, err = seal.VerifySealedDocument([]byte(damaged))
	var integrity *contracts.IntegrityError
	require.ErrorAs(t, err, &integrity)
}

func TestVerifyRejectsIncompatibleEngineVersion(t *testing.T) {
	sealer, _ := newTestSealer(t)

	sealed, _, err := sealer.SealDocument(context.Background(), "env-1", []byte("doc"), nil)
	require.NoError(t, err)

	bumped := strings.Replace(string(sealed),
		`"engine_version":"`+seal.EngineVersion+`"`,
		`"engine_version":"99.0.0"`, 1)
	v, err := seal.VerifySealedDocument([]byte(bumped))
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Reason, "incompatible engine version")
}

func TestFileProviderMissingFiles(t *testing.T) {
	provider := &seal.FileProvider{CertPath: "/nonexistent/cert.pem", KeyPath: "/nonexistent/key.pem"}
	_, _, err := provider.Credentials()
	var provErr *contracts.ProviderError
	require.ErrorAs(t, err, &provErr)
}

func TestSelfSignedProviderReusesKeyPair(t *testing.T) {
	provider := &seal.SelfSignedProvider{}
	key1, cert1, err := provider.Credentials()
	require.NoError(t, err)
	key2, cert2, err := provider.Credentials()
	require.NoError(t, err)
	assert.Same(t, key1, key2)
	assert.Same(t, cert1, cert2)
	assert.True(t, cert1.NotAfter.After(time.Now().AddDate(9, 11, 0)))
}

func TestSelfSignedProviderConcurrentFirstUse(t *testing.T) {
	provider := &seal.SelfSignedProvider{}

	const callers = 8
	keys := make([]*rsa.PrivateKey, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, _, err := provider.Credentials()
			assert.NoError(t, err)
			keys[i] = key
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, keys[0], keys[i])
	}
}
