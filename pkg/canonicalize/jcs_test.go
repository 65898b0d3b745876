package canonicalize_test

import (
	"testing"

	"github.com/Signet-Labs/signet/pkg/canonicalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_SortsKeysAndStripsWhitespace(t *testing.T) {
	v := map[string]any{"b": 2, "a": 1}
	out, err := canonicalize.JCS(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(out))
}

func TestCanonicalHash_Deterministic(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	h1, err := canonicalize.CanonicalHash(payload{Name: "x", Count: 3})
	require.NoError(t, err)
	h2, err := canonicalize.CanonicalHash(payload{Name: "x", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := canonicalize.CanonicalHash(payload{Name: "x", Count: 4})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestHashBytes_EmptyInput(t *testing.T) {
	// Well-known SHA-256 of empty string.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		canonicalize.HashBytes(nil))
}
