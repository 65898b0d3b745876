package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Geolocator resolves an IP address into an approximate, human-readable
// location. Lookups are best-effort evidence enrichment only.
type Geolocator interface {
	Lookup(ctx context.Context, ip string) (string, error)
}

// NoopGeolocator never resolves anything. Default when no enrichment
// backend is configured.
type NoopGeolocator struct{}

func (NoopGeolocator) Lookup(ctx context.Context, ip string) (string, error) {
	return "", nil
}

// HTTPGeolocator queries a JSON geo-IP endpoint (GET <base>/<ip>).
type HTTPGeolocator struct {
	BaseURL string
	Client  *http.Client
}

type geoResponse struct {
	City    string `json:"city"`
	Region  string `json:"regionName"`
	Country string `json:"country"`
}

func (g *HTTPGeolocator) Lookup(ctx context.Context, ip string) (string, error) {
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(g.BaseURL, "/")+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geolocation lookup returned %d", resp.StatusCode)
	}

	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	parts := make([]string, 0, 3)
	for _, p := range []string{body.City, body.Region, body.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", "), nil
}
