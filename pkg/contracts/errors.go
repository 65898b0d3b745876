package contracts

import "fmt"

// The signing core surfaces six failure classes. Workflow, token and
// integrity errors are always returned to the caller as one of these
// types; audit-ledger write failures are the only deliberate exception
// (see pkg/ledger).

// ValidationError reports malformed input to any operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown envelope, signer, token or document.
type NotFoundError struct {
	Kind string // "envelope", "signer", "token", "document"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IllegalStateError reports a workflow rule violation, e.g. correcting a
// completed envelope or removing a terminal signer.
type IllegalStateError struct {
	Op     string
	Reason string
}

func (e *IllegalStateError) Error() string {
	return e.Reason
}

// TokenError reports an invalid, expired or already-consumed ceremony token.
type TokenError struct {
	Reason string
}

func (e *TokenError) Error() string {
	return e.Reason
}

// IntegrityError reports a cryptographic integrity failure: decryption
// authentication mismatch, or a broken/forked audit hash chain. Callers
// must never receive plaintext alongside one of these.
type IntegrityError struct {
	Op     string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity failure in %s: %s", e.Op, e.Reason)
}

// ProviderError reports a TSP/QES provider failure or misconfiguration.
type ProviderError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error { return e.Err }
