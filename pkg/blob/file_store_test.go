package blob_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Signet-Labs/signet/pkg/blob"
	"github.com/Signet-Labs/signet/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *blob.FileStore {
	t.Helper()
	s, err := blob.NewFileStore(t.TempDir(), "http://localhost:8080/documents", []byte("test-url-key"))
	require.NoError(t, err)
	return s
}

func TestFileStore_PutGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Put(ctx, "documents/abc-123", []byte("ciphertext"), map[string]string{"envelope_id": "env-1"})
	require.NoError(t, err)

	got, err := s.Get(ctx, "documents/abc-123")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), got)

	require.NoError(t, s.Delete(ctx, "documents/abc-123"))

	_, err = s.Get(ctx, "documents/abc-123")
	var nf *contracts.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestFileStore_DeleteMissingIsNotError(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Delete(context.Background(), "documents/never-there"))
}

func TestFileStore_RejectsTraversalKeys(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(context.Background(), "../outside", []byte("x"), nil)
	require.Error(t, err)
}

func TestFileStore_SignedURLRoundTrip(t *testing.T) {
	s := newTestStore(t)
	url, err := s.SignedURL(context.Background(), "documents/abc-123", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "documents/abc-123?token=")

	token := url[len("http://localhost:8080/documents/documents/abc-123?token="):]
	key, err := s.VerifySignedURL(token)
	require.NoError(t, err)
	assert.Equal(t, "documents/abc-123", key)
}

func TestFileStore_SignedURLRequiresKey(t *testing.T) {
	s, err := blob.NewFileStore(t.TempDir(), "http://localhost:8080/documents", nil)
	require.NoError(t, err)
	_, err = s.SignedURL(context.Background(), "documents/x", time.Minute)
	require.Error(t, err)
}
