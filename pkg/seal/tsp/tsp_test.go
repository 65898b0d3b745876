package tsp_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-Labs/signet/pkg/contracts"
	"github.com/Signet-Labs/signet/pkg/seal/tsp"
)

func TestSessionStatusMachine(t *testing.T) {
	assert.True(t, tsp.StatusInitiated.CanAdvanceTo(tsp.StatusIdentityPending))
	assert.True(t, tsp.StatusInitiated.CanAdvanceTo(tsp.StatusSigned))
	assert.True(t, tsp.StatusSigningReady.CanAdvanceTo(tsp.StatusFailed))

	// Never backwards, never out of a terminal state.
	assert.False(t, tsp.StatusIdentityVerified.CanAdvanceTo(tsp.StatusInitiated))
	assert.False(t, tsp.StatusSigned.CanAdvanceTo(tsp.StatusFailed))
	assert.False(t, tsp.StatusFailed.CanAdvanceTo(tsp.StatusSigningReady))
	assert.False(t, tsp.StatusExpired.CanAdvanceTo(tsp.StatusSigned))
}

func TestSelectSwisscom(t *testing.T) {
	sel := tsp.Select(tsp.Config{Provider: "swisscom", BaseURL: "https://ais.example.com", APIKey: "k"})
	assert.Equal(t, tsp.ProviderSelected, sel.Kind)
	assert.Equal(t, "swisscom", sel.Provider.Name())
}

func TestSelectMisconfiguredProvider(t *testing.T) {
	sel := tsp.Select(tsp.Config{Provider: "namirial"})
	assert.Equal(t, tsp.Unsupported, sel.Kind)
	assert.NotEmpty(t, sel.Reason)
}

func TestSelectFallback(t *testing.T) {
	sel := tsp.Select(tsp.Config{FallbackMethod: "email_otp"})
	assert.Equal(t, tsp.FellBackTo, sel.Kind)
	assert.Equal(t, "email_otp", sel.Method)
	assert.Equal(t, "none", sel.Provider.Name())
}

func TestSelectUnknownProvider(t *testing.T) {
	sel := tsp.Select(tsp.Config{Provider: "acme-trust"})
	assert.Equal(t, tsp.Unsupported, sel.Kind)
	assert.Contains(t, sel.Reason, "acme-trust")
}

func TestNoneProviderReportsUnavailable(t *testing.T) {
	var provider tsp.NoneProvider
	_, err := provider.InitiateQES(context.Background(), tsp.InitiationRequest{})
	var provErr *contracts.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "none", provErr.Provider)
}

func TestSwisscomSessionLifecycle(t *testing.T) {
	statuses := []string{"CREATED", "IDENT_OK", "SIGNED"}
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var state string
		if r.Method == http.MethodPost {
			state = statuses[0]
		} else {
			calls++
			state = statuses[calls]
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-1", "status": state})
	}))
	defer server.Close()

	provider := tsp.NewSwisscomProvider(server.URL, "secret")
	ctx := context.Background()

	session, err := provider.InitiateQES(ctx, tsp.InitiationRequest{SignerEmail: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, tsp.StatusInitiated, session.Status)

	session, err = provider.CheckStatus(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, tsp.StatusIdentityVerified, session.Status)

	session, err = provider.CheckStatus(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, tsp.StatusSigned, session.Status)
}

func TestSwisscomRejectsBackwardsStatus(t *testing.T) {
	states := []string{"SIGN_READY", "CREATED"}
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := states[calls]
		calls++
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-1", "status": state})
	}))
	defer server.Close()

	provider := tsp.NewSwisscomProvider(server.URL, "secret")
	ctx := context.Background()

	_, err := provider.CheckStatus(ctx, "sess-1")
	require.NoError(t, err)

	_, err = provider.CheckStatus(ctx, "sess-1")
	var provErr *contracts.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, provErr.Reason, "backwards")
}

func TestNamirialErrorSurface(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := tsp.NewNamirialProvider(server.URL, "k")
	_, err := provider.CheckStatus(context.Background(), "any")
	var provErr *contracts.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "namirial", provErr.Provider)
	assert.Contains(t, provErr.Reason, "429")
}

func TestSwisscomSessionCarriesVerificationURLAndExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"session_id":       "sess-9",
			"status":           "IDENT_REQUESTED",
			"verification_url": "https://ident.example.com/sess-9",
			"expires_at":       "2026-09-01T12:00:00Z",
		})
	}))
	defer server.Close()

	provider := tsp.NewSwisscomProvider(server.URL, "secret")
	session, err := provider.InitiateQES(context.Background(), tsp.InitiationRequest{SignerEmail: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "https://ident.example.com/sess-9", session.IdentityVerificationURL)
	require.NotNil(t, session.ExpiresAt)
	assert.Equal(t, time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC), session.ExpiresAt.UTC())
}

func TestSwisscomSignWithQSCDResult(t *testing.T) {
	digest := []byte("0123456789abcdef0123456789abcdef")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, base64.StdEncoding.EncodeToString(digest), body["digest"])
		_ = json.NewEncoder(w).Encode(map[string]string{
			"signature":          base64.StdEncoding.EncodeToString([]byte("sig-bytes")),
			"certificate_pem":    "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----",
			"timestamp":          "2026-08-26T09:30:00Z",
			"certificate_serial": "04:2a:ff",
			"qscd_reference":     "hsm-eu-1",
		})
	}))
	defer server.Close()

	provider := tsp.NewSwisscomProvider(server.URL, "secret")
	result, err := provider.SignWithQSCD(context.Background(), "sess-1", digest)
	require.NoError(t, err)
	assert.Equal(t, []byte("sig-bytes"), result.Signature)
	assert.Contains(t, string(result.Certificate), "BEGIN CERTIFICATE")
	assert.Equal(t, "swisscom", result.TSPName)
	assert.Equal(t, "04:2a:ff", result.CertificateSerial)
	assert.Equal(t, "hsm-eu-1", result.QSCDReference)
	assert.Equal(t, time.Date(2026, 8, 26, 9, 30, 0, 0, time.UTC), result.Timestamp.UTC())
}

func TestNamirialSignWithQSCDResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"signature_value":    base64.StdEncoding.EncodeToString([]byte("qes-signature")),
			"certificate":        "-----BEGIN CERTIFICATE-----\nMIIC\n-----END CERTIFICATE-----",
			"signed_at":          "2026-08-26T10:00:00Z",
			"certificate_serial": "0b:77",
			"device_reference":   "qscd-it-2",
		})
	}))
	defer server.Close()

	provider := tsp.NewNamirialProvider(server.URL, "k")
	result, err := provider.SignWithQSCD(context.Background(), "sess-2", []byte("digest"))
	require.NoError(t, err)
	assert.Equal(t, []byte("qes-signature"), result.Signature)
	assert.Equal(t, "namirial", result.TSPName)
	assert.Equal(t, "0b:77", result.CertificateSerial)
	assert.Equal(t, "qscd-it-2", result.QSCDReference)
}
