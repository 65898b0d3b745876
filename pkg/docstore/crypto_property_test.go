//go:build property
// +build property

// Property-based tests for the encrypted storage framing.
package docstore_test

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Signet-Labs/signet/pkg/docstore"
)

// TestEncryptDecryptProperty verifies decrypt(encrypt(m, k)) == m for
// arbitrary byte content.
func TestEncryptDecryptProperty(t *testing.T) {
	key := docstore.DeriveKey("property-test", []byte("salt-v1"))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("round-trip preserves arbitrary content", prop.ForAll(
		func(plaintext []byte) bool {
			packed, err := docstore.Encrypt(key, plaintext)
			if err != nil {
				return false
			}
			got, err := docstore.Decrypt(key, packed)
			if err != nil {
				return false
			}
			return bytes.Equal(plaintext, got)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
