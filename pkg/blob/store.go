// Package blob provides the opaque blob-store capability beneath the
// encrypted document store. Backends: local filesystem, S3 and GCS
// (build tag gcp). The store never sees plaintext — the document store
// encrypts before Put and authenticates after Get.
package blob

import (
	"context"
	"time"
)

// Store is the contract for keyed blob storage.
type Store interface {
	// Put persists data under key with non-secret metadata alongside.
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
	// Get retrieves data by key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// SignedURL issues a time-boxed, pre-authorized URL for the key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
