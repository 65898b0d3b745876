// Package render declares the external collaborators the sealing path
// consumes: the document renderer that applies field values to bytes,
// and the identity-evidence provider. Neither is implemented here.
package render

import (
	"context"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// Renderer applies filled field values to document bytes. It is a pure
// transformation invoked immediately before sealing; PDF byte layout is
// its problem, not ours.
type Renderer interface {
	ApplyFieldValues(ctx context.Context, docBytes []byte, fields []*contracts.Field) ([]byte, error)
}

// EvidenceProvider reports identity evidence collected for a signer.
// The sealing engine records what it returns; it performs no
// verification of its own.
type EvidenceProvider interface {
	EvidenceFor(ctx context.Context, signerID string) (*contracts.IdentityEvidence, error)
}

// PassthroughRenderer returns the input bytes unchanged. Used when the
// document was rendered upstream and in tests.
type PassthroughRenderer struct{}

func (PassthroughRenderer) ApplyFieldValues(_ context.Context, docBytes []byte, _ []*contracts.Field) ([]byte, error) {
	return docBytes, nil
}
