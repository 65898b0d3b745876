// Package docstore implements the encrypted-at-rest document store:
// AES-256-GCM over an opaque blob store, with a fixed storage framing of
// IV (12 bytes) ‖ authentication tag (16 bytes) ‖ ciphertext.
package docstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

const (
	ivSize  = 12 // 96-bit GCM nonce
	tagSize = 16 // 128-bit authentication tag
)

// Encrypt seals plaintext under key with a fresh random IV and returns
// the packed storage framing. A fresh IV is generated on every call and
// is never reused under the same key.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, &contracts.IntegrityError{Op: "encrypt", Reason: "iv generation failed: " + err.Error()}
	}

	// Seal appends the tag to the ciphertext; pack rearranges into the
	// fixed iv ‖ tag ‖ ciphertext layout.
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	return pack(iv, sealed[len(sealed)-tagSize:], sealed[:len(sealed)-tagSize]), nil
}

// Decrypt unpacks the storage framing and opens the ciphertext. Any
// authentication failure — tampering, wrong key, corrupted storage —
// returns an IntegrityError and never partial plaintext.
func Decrypt(key, packed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv, tag, ct, err := unpack(packed)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, &contracts.IntegrityError{Op: "decrypt", Reason: "authentication failed"}
	}
	if plaintext == nil {
		// Open returns nil for an authenticated empty message; a
		// successful decrypt always yields a non-nil slice.
		plaintext = []byte{}
	}
	return plaintext, nil
}

// pack assembles the fixed-width storage framing iv ‖ tag ‖ ciphertext.
func pack(iv, tag, ciphertext []byte) []byte {
	out := make([]byte, 0, len(iv)+len(tag)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out
}

// unpack splits the framing at its fixed offsets.
func unpack(packed []byte) (iv, tag, ciphertext []byte, err error) {
	if len(packed) < ivSize+tagSize {
		return nil, nil, nil, &contracts.IntegrityError{Op: "decrypt", Reason: "encrypted envelope too short"}
	}
	return packed[:ivSize], packed[ivSize : ivSize+tagSize], packed[ivSize+tagSize:], nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &contracts.IntegrityError{Op: "cipher", Reason: err.Error()}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &contracts.IntegrityError{Op: "cipher", Reason: err.Error()}
	}
	return gcm, nil
}
