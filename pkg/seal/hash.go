// Package seal turns filled document bytes into a tamper-evident,
// independently verifiable artifact: a SHA-256 content digest, a
// detached signature with authenticated attributes, and an embedded
// metadata block describing how the seal was made.
package seal

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashAlgorithm names the digest every seal is anchored on.
const HashAlgorithm = "SHA-256"

// HashDocument returns the hex SHA-256 digest of the content. It is the
// anchor for everything downstream: signature, metadata, verification.
func HashDocument(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether the content matches the digest.
func VerifyHash(content []byte, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(HashDocument(content)), []byte(digest)) == 1
}
