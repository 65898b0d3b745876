package blob_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-Labs/signet/pkg/blob"
)

func TestNewStoreFromEnv_DefaultsToFilesystem(t *testing.T) {
	t.Setenv("DOCUMENT_STORAGE_TYPE", "")
	t.Setenv("DATA_DIR", t.TempDir())

	store, err := blob.NewStoreFromEnv(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &blob.FileStore{}, store)
}

func TestNewStoreFromEnv_S3RequiresBucket(t *testing.T) {
	t.Setenv("DOCUMENT_STORAGE_TYPE", "s3")
	t.Setenv("DOCUMENT_S3_BUCKET", "")

	_, err := blob.NewStoreFromEnv(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCUMENT_S3_BUCKET")
}

func TestNewStoreFromEnv_UnknownBackend(t *testing.T) {
	t.Setenv("DOCUMENT_STORAGE_TYPE", "tape")

	_, err := blob.NewStoreFromEnv(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported document storage type")
}
