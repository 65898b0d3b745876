package docstore_test

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/Signet-Labs/signet/pkg/contracts"
	"github.com/Signet-Labs/signet/pkg/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	return docstore.DeriveKey("correct horse battery staple", []byte("test-salt-v1"))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := testKey(t)

	cases := map[string][]byte{
		"empty":  {},
		"short":  []byte("hello"),
		"binary": {0x00, 0xff, 0x10, 0x80, 0x7f},
	}
	for name, plaintext := range cases {
		t.Run(name, func(t *testing.T) {
			packed, err := docstore.Encrypt(key, plaintext)
			require.NoError(t, err)

			got, err := docstore.Decrypt(key, packed)
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
		})
	}
}

func TestEncryptDecrypt_LargeInput(t *testing.T) {
	key := testKey(t)

	plaintext := make([]byte, 10<<20) // 10 MiB
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	packed, err := docstore.Encrypt(key, plaintext)
	require.NoError(t, err)

	got, err := docstore.Decrypt(key, packed)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, got))
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	key := testKey(t)

	a, err := docstore.Encrypt(key, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := docstore.Encrypt(key, []byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a[:12], b[:12], "IV must be fresh on every call")
	assert.NotEqual(t, a, b)
}

func TestDecrypt_AnyFlippedByteFailsClosed(t *testing.T) {
	key := testKey(t)

	packed, err := docstore.Encrypt(key, []byte("the quick brown fox"))
	require.NoError(t, err)

	// Flip every byte position in turn: IV, tag and ciphertext regions
	// must all cause an authentication failure, never wrong plaintext.
	for i := range packed {
		corrupted := append([]byte(nil), packed...)
		corrupted[i] ^= 0x01

		_, err := docstore.Decrypt(key, corrupted)
		var ie *contracts.IntegrityError
		require.True(t, errors.As(err, &ie), "flipping byte %d must fail with IntegrityError", i)
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	packed, err := docstore.Encrypt(testKey(t), []byte("secret"))
	require.NoError(t, err)

	other := docstore.DeriveKey("different passphrase", []byte("test-salt-v1"))
	_, err = docstore.Decrypt(other, packed)
	var ie *contracts.IntegrityError
	assert.True(t, errors.As(err, &ie))
}

func TestDecrypt_TruncatedEnvelope(t *testing.T) {
	_, err := docstore.Decrypt(testKey(t), []byte("short"))
	var ie *contracts.IntegrityError
	assert.True(t, errors.As(err, &ie))
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a := docstore.DeriveKey("pass", []byte("salt"))
	b := docstore.DeriveKey("pass", []byte("salt"))
	c := docstore.DeriveKey("pass", []byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestKeySource_DerivesOnceAndRequiresPassphrase(t *testing.T) {
	ks := docstore.NewKeySource("pass", []byte("salt"))
	k1, err := ks.Key()
	require.NoError(t, err)
	k2, err := ks.Key()
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	empty := docstore.NewKeySource("", []byte("salt"))
	_, err = empty.Key()
	require.Error(t, err)
}
