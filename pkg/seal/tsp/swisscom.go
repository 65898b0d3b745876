package tsp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// SwisscomProvider talks to the Swisscom All-in Signing Service. It
// keeps a local mirror of session status so backwards provider answers
// are rejected rather than recorded.
type SwisscomProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu       sync.Mutex
	statuses map[string]SessionStatus
}

// NewSwisscomProvider creates a client against the given endpoint.
func NewSwisscomProvider(baseURL, apiKey string) *SwisscomProvider {
	return &SwisscomProvider{
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
		statuses: make(map[string]SessionStatus),
	}
}

func (p *SwisscomProvider) Name() string { return "swisscom" }

type swisscomSession struct {
	SessionID       string `json:"session_id"`
	Status          string `json:"status"`
	Detail          string `json:"detail"`
	VerificationURL string `json:"verification_url"`
	ExpiresAt       string `json:"expires_at"`
}

// swisscomStatusMap translates provider wire states to the monotone
// session machine.
var swisscomStatusMap = map[string]SessionStatus{
	"CREATED":         StatusInitiated,
	"IDENT_REQUESTED": StatusIdentityPending,
	"IDENT_OK":        StatusIdentityVerified,
	"CERT_READY":      StatusCertificateIssued,
	"SIGN_READY":      StatusSigningReady,
	"SIGNED":          StatusSigned,
	"FAILED":          StatusFailed,
	"TIMEOUT":         StatusExpired,
	"IDENT_FAILED":    StatusFailed,
	"SESSION_EXPIRED": StatusExpired,
}

func (p *SwisscomProvider) InitiateQES(ctx context.Context, req InitiationRequest) (*Session, error) {
	var resp swisscomSession
	if err := p.call(ctx, http.MethodPost, "/ais/v1/sessions", req, &resp); err != nil {
		return nil, err
	}
	session, err := p.toSession(resp)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (p *SwisscomProvider) CheckStatus(ctx context.Context, sessionID string) (*Session, error) {
	var resp swisscomSession
	if err := p.call(ctx, http.MethodGet, "/ais/v1/sessions/"+sessionID, nil, &resp); err != nil {
		return nil, err
	}
	return p.toSession(resp)
}

func (p *SwisscomProvider) GetQualifiedCertificate(ctx context.Context, sessionID string) ([]byte, error) {
	var resp struct {
		CertificatePEM string `json:"certificate_pem"`
	}
	if err := p.call(ctx, http.MethodGet, "/ais/v1/sessions/"+sessionID+"/certificate", nil, &resp); err != nil {
		return nil, err
	}
	if resp.CertificatePEM == "" {
		return nil, &contracts.ProviderError{Provider: p.Name(), Reason: "certificate not issued yet"}
	}
	return []byte(resp.CertificatePEM), nil
}

func (p *SwisscomProvider) SignWithQSCD(ctx context.Context, sessionID string, digest []byte) (*QSCDSignature, error) {
	req := map[string]string{
		"digest":    base64.StdEncoding.EncodeToString(digest),
		"algorithm": "SHA256",
	}
	var resp struct {
		Signature         string `json:"signature"`
		CertificatePEM    string `json:"certificate_pem"`
		Timestamp         string `json:"timestamp"`
		CertificateSerial string `json:"certificate_serial"`
		QSCDReference     string `json:"qscd_reference"`
	}
	if err := p.call(ctx, http.MethodPost, "/ais/v1/sessions/"+sessionID+"/sign", req, &resp); err != nil {
		return nil, err
	}
	signature, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil {
		return nil, &contracts.ProviderError{Provider: p.Name(), Reason: "signature is not valid base64", Err: err}
	}
	result := &QSCDSignature{
		Signature:         signature,
		Certificate:       []byte(resp.CertificatePEM),
		TSPName:           p.Name(),
		CertificateSerial: resp.CertificateSerial,
		QSCDReference:     resp.QSCDReference,
	}
	if ts, err := time.Parse(time.RFC3339, resp.Timestamp); err == nil {
		result.Timestamp = ts
	} else {
		result.Timestamp = time.Now().UTC()
	}
	return result, nil
}

func (p *SwisscomProvider) toSession(resp swisscomSession) (*Session, error) {
	status, ok := swisscomStatusMap[resp.Status]
	if !ok {
		return nil, &contracts.ProviderError{Provider: p.Name(), Reason: fmt.Sprintf("unknown session status %q", resp.Status)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if current, seen := p.statuses[resp.SessionID]; seen {
		if err := advanceGuard(current, status, p.Name()); err != nil {
			return nil, err
		}
	}
	p.statuses[resp.SessionID] = status

	now := time.Now().UTC()
	session := &Session{
		ID:                      resp.SessionID,
		Provider:                p.Name(),
		Status:                  status,
		Detail:                  resp.Detail,
		IdentityVerificationURL: resp.VerificationURL,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if expiresAt, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
		session.ExpiresAt = &expiresAt
	}
	return session, nil
}

func (p *SwisscomProvider) call(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &contracts.ProviderError{Provider: p.Name(), Reason: "encode request", Err: err}
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, payload)
	if err != nil {
		return &contracts.ProviderError{Provider: p.Name(), Reason: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &contracts.ProviderError{Provider: p.Name(), Reason: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &contracts.ProviderError{
			Provider: p.Name(),
			Reason:   fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &contracts.ProviderError{Provider: p.Name(), Reason: "decode response", Err: err}
	}
	return nil
}
