package tsp

import (
	"context"
	"fmt"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// NoneProvider is the explicit absence of a qualified-signature path.
// Every operation reports that no TSP is configured; nothing degrades
// silently.
type NoneProvider struct{}

func (NoneProvider) Name() string { return "none" }

func (NoneProvider) InitiateQES(ctx context.Context, req InitiationRequest) (*Session, error) {
	return nil, errNoProvider()
}

func (NoneProvider) CheckStatus(ctx context.Context, sessionID string) (*Session, error) {
	return nil, errNoProvider()
}

func (NoneProvider) GetQualifiedCertificate(ctx context.Context, sessionID string) ([]byte, error) {
	return nil, errNoProvider()
}

func (NoneProvider) SignWithQSCD(ctx context.Context, sessionID string, digest []byte) (*QSCDSignature, error) {
	return nil, errNoProvider()
}

func errNoProvider() error {
	return &contracts.ProviderError{Provider: "none", Reason: "no qualified signature provider configured"}
}

// SelectionKind tags the factory outcome.
type SelectionKind string

const (
	// ProviderSelected means the configured provider is available.
	ProviderSelected SelectionKind = "provider_selected"
	// FellBackTo means no QES provider is configured but a weaker
	// verification method stands in for identity evidence.
	FellBackTo SelectionKind = "fell_back_to"
	// Unsupported means qualified signatures are unavailable.
	Unsupported SelectionKind = "unsupported"
)

// Selection is the explicit decision-table outcome of provider choice.
// Callers branch on Kind; there is no exception-driven fallback.
type Selection struct {
	Kind     SelectionKind
	Provider Provider
	Method   string // populated for FellBackTo, e.g. "email_otp"
	Reason   string // populated for Unsupported
}

// Config identifies and parameterizes the QES provider.
type Config struct {
	Provider       string // "swisscom", "namirial" or empty
	BaseURL        string
	APIKey         string
	FallbackMethod string // e.g. "email_otp", "sms_otp"
}

// Select resolves the configured provider. Unknown identifiers are
// Unsupported with the reason spelled out, not an error to catch.
func Select(cfg Config) Selection {
	switch cfg.Provider {
	case "swisscom":
		if cfg.BaseURL == "" || cfg.APIKey == "" {
			return Selection{Kind: Unsupported, Provider: NoneProvider{}, Reason: "swisscom provider selected but endpoint or API key missing"}
		}
		return Selection{Kind: ProviderSelected, Provider: NewSwisscomProvider(cfg.BaseURL, cfg.APIKey)}
	case "namirial":
		if cfg.BaseURL == "" || cfg.APIKey == "" {
			return Selection{Kind: Unsupported, Provider: NoneProvider{}, Reason: "namirial provider selected but endpoint or API key missing"}
		}
		return Selection{Kind: ProviderSelected, Provider: NewNamirialProvider(cfg.BaseURL, cfg.APIKey)}
	case "", "none":
		if cfg.FallbackMethod != "" {
			return Selection{Kind: FellBackTo, Provider: NoneProvider{}, Method: cfg.FallbackMethod}
		}
		return Selection{Kind: Unsupported, Provider: NoneProvider{}, Reason: "no qualified signature provider configured"}
	default:
		return Selection{Kind: Unsupported, Provider: NoneProvider{}, Reason: fmt.Sprintf("unknown QES provider %q", cfg.Provider)}
	}
}
