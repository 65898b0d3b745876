package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Signet-Labs/signet/pkg/blob"
)

// Store encrypts documents before they reach the blob store and
// authenticates them on the way back out.
type Store struct {
	blobs blob.Store
	keys  *KeySource
}

// New creates an encrypted document store over the given blob backend.
func New(blobs blob.Store, keys *KeySource) *Store {
	return &Store{blobs: blobs, keys: keys}
}

// Upload encrypts data and writes it under a randomly generated,
// namespaced key. Metadata is stored alongside the ciphertext, never
// inside it — it must not contain secrets.
func (s *Store) Upload(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	key, err := s.keys.Key()
	if err != nil {
		return "", err
	}

	packed, err := Encrypt(key, data)
	if err != nil {
		return "", err
	}

	storageKey := "documents/" + uuid.New().String()
	if err := s.blobs.Put(ctx, storageKey, packed, metadata); err != nil {
		return "", fmt.Errorf("document upload failed: %w", err)
	}
	return storageKey, nil
}

// Download fetches and decrypts a document. Tampered or corrupted
// ciphertext surfaces as an IntegrityError from Decrypt.
func (s *Store) Download(ctx context.Context, storageKey string) ([]byte, error) {
	key, err := s.keys.Key()
	if err != nil {
		return nil, err
	}

	packed, err := s.blobs.Get(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	return Decrypt(key, packed)
}

// Delete removes the stored document.
func (s *Store) Delete(ctx context.Context, storageKey string) error {
	return s.blobs.Delete(ctx, storageKey)
}

// SignedURL issues a time-boxed, pre-authorized URL for the stored
// (still encrypted) document, delegated to the blob backend.
func (s *Store) SignedURL(ctx context.Context, storageKey string, ttl time.Duration) (string, error) {
	return s.blobs.SignedURL(ctx, storageKey, ttl)
}
