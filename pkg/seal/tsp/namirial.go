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

// NamirialProvider talks to the Namirial Trust Service API. Same local
// status mirror as the Swisscom client: a provider answer that moves a
// session backwards is an error, not a state change.
type NamirialProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu       sync.Mutex
	statuses map[string]SessionStatus
}

// NewNamirialProvider creates a client against the given endpoint.
func NewNamirialProvider(baseURL, apiKey string) *NamirialProvider {
	return &NamirialProvider{
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
		statuses: make(map[string]SessionStatus),
	}
}

func (p *NamirialProvider) Name() string { return "namirial" }

type namirialEnvelope struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Remark     string `json:"remark"`
	IdentURL   string `json:"identification_url"`
	ValidUntil string `json:"valid_until"`
}

var namirialStatusMap = map[string]SessionStatus{
	"draft":          StatusInitiated,
	"identification": StatusIdentityPending,
	"identified":     StatusIdentityVerified,
	"cert_available": StatusCertificateIssued,
	"ready":          StatusSigningReady,
	"completed":      StatusSigned,
	"rejected":       StatusFailed,
	"expired":        StatusExpired,
}

func (p *NamirialProvider) InitiateQES(ctx context.Context, req InitiationRequest) (*Session, error) {
	var resp namirialEnvelope
	if err := p.call(ctx, http.MethodPost, "/v2/qes/sessions", req, &resp); err != nil {
		return nil, err
	}
	return p.toSession(resp)
}

func (p *NamirialProvider) CheckStatus(ctx context.Context, sessionID string) (*Session, error) {
	var resp namirialEnvelope
	if err := p.call(ctx, http.MethodGet, "/v2/qes/sessions/"+sessionID, nil, &resp); err != nil {
		return nil, err
	}
	return p.toSession(resp)
}

func (p *NamirialProvider) GetQualifiedCertificate(ctx context.Context, sessionID string) ([]byte, error) {
	var resp struct {
		Certificate string `json:"certificate"`
	}
	if err := p.call(ctx, http.MethodGet, "/v2/qes/sessions/"+sessionID+"/certificate", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Certificate == "" {
		return nil, &contracts.ProviderError{Provider: p.Name(), Reason: "certificate not issued yet"}
	}
	return []byte(resp.Certificate), nil
}

func (p *NamirialProvider) SignWithQSCD(ctx context.Context, sessionID string, digest []byte) (*QSCDSignature, error) {
	req := map[string]string{"hash": base64.StdEncoding.EncodeToString(digest), "hash_algorithm": "SHA-256"}
	var resp struct {
		SignatureValue    string `json:"signature_value"`
		Certificate       string `json:"certificate"`
		SignedAt          string `json:"signed_at"`
		CertificateSerial string `json:"certificate_serial"`
		DeviceReference   string `json:"device_reference"`
	}
	if err := p.call(ctx, http.MethodPost, "/v2/qes/sessions/"+sessionID+"/signatures", req, &resp); err != nil {
		return nil, err
	}
	signature, err := base64.StdEncoding.DecodeString(resp.SignatureValue)
	if err != nil {
		return nil, &contracts.ProviderError{Provider: p.Name(), Reason: "signature is not valid base64", Err: err}
	}
	result := &QSCDSignature{
		Signature:         signature,
		Certificate:       []byte(resp.Certificate),
		TSPName:           p.Name(),
		CertificateSerial: resp.CertificateSerial,
		QSCDReference:     resp.DeviceReference,
	}
	if ts, err := time.Parse(time.RFC3339, resp.SignedAt); err == nil {
		result.Timestamp = ts
	} else {
		result.Timestamp = time.Now().UTC()
	}
	return result, nil
}

func (p *NamirialProvider) toSession(resp namirialEnvelope) (*Session, error) {
	status, ok := namirialStatusMap[resp.State]
	if !ok {
		return nil, &contracts.ProviderError{Provider: p.Name(), Reason: fmt.Sprintf("unknown session state %q", resp.State)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if current, seen := p.statuses[resp.ID]; seen {
		if err := advanceGuard(current, status, p.Name()); err != nil {
			return nil, err
		}
	}
	p.statuses[resp.ID] = status

	now := time.Now().UTC()
	session := &Session{
		ID:                      resp.ID,
		Provider:                p.Name(),
		Status:                  status,
		Detail:                  resp.Remark,
		IdentityVerificationURL: resp.IdentURL,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if validUntil, err := time.Parse(time.RFC3339, resp.ValidUntil); err == nil {
		session.ExpiresAt = &validUntil
	}
	return session, nil
}

func (p *NamirialProvider) call(ctx context.Context, method, path string, body, out any) error {
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
	req.Header.Set("X-Api-Key", p.apiKey)
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
