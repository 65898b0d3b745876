package docstore

import (
	"errors"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"crypto/sha256"
)

const (
	keySize    = 32 // AES-256
	iterations = 100_000
)

// DeriveKey derives a 32-byte key from a passphrase and salt via
// PBKDF2-HMAC-SHA256 with 100,000 iterations. Deterministic for a fixed
// (passphrase, salt) pair.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
}

// KeySource holds the deployment-wide data-encryption key, derived once
// from the operator-supplied passphrase and cached for the process
// lifetime. Concurrent first use cannot race the derivation.
//
// One key per deployment, not per document. Envelope encryption (random
// per-document keys wrapped by a master key) would allow rotation
// without re-encrypting stored documents; the salt carries a version
// suffix so that migration stays possible.
type KeySource struct {
	passphrase string
	salt       []byte

	once sync.Once
	key  []byte
	err  error
}

// NewKeySource creates a key source. The key is not derived until first use.
func NewKeySource(passphrase string, salt []byte) *KeySource {
	return &KeySource{passphrase: passphrase, salt: salt}
}

// Key returns the cached deployment key, deriving it on first call.
func (ks *KeySource) Key() ([]byte, error) {
	ks.once.Do(func() {
		if ks.passphrase == "" {
			ks.err = errors.New("docstore: encryption passphrase is not configured")
			return
		}
		ks.key = DeriveKey(ks.passphrase, ks.salt)
	})
	return ks.key, ks.err
}
