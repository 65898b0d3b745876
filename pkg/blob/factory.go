package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BackendType represents the blob storage backend.
type BackendType string

const (
	BackendFS  BackendType = "fs"
	BackendS3  BackendType = "s3"
	BackendGCS BackendType = "gcs"
)

// NewStoreFromEnv creates a blob store based on environment variables.
//
// Environment variables:
//   - DOCUMENT_STORAGE_TYPE: "fs" (default), "s3", or "gcs"
//   - DATA_DIR: base directory for filesystem store (default: "data")
//   - DOCUMENT_URL_BASE / DOCUMENT_URL_SIGNING_KEY: fs signed URLs
//
// For S3:
//   - DOCUMENT_S3_BUCKET (required)
//   - AWS_REGION or DOCUMENT_S3_REGION
//   - DOCUMENT_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - DOCUMENT_S3_PREFIX (optional)
//
// For GCS (requires -tags gcp):
//   - DOCUMENT_GCS_BUCKET (required)
//   - DOCUMENT_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := BackendType(os.Getenv("DOCUMENT_STORAGE_TYPE"))
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		return newFileStoreFromEnv()
	case BackendS3:
		return newS3StoreFromEnv(ctx)
	case BackendGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported document storage type: %s", backend)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	urlBase := os.Getenv("DOCUMENT_URL_BASE")
	if urlBase == "" {
		urlBase = "http://localhost:8080/documents"
	}
	return NewFileStore(filepath.Join(dataDir, "documents"), urlBase, []byte(os.Getenv("DOCUMENT_URL_SIGNING_KEY")))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("DOCUMENT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("DOCUMENT_S3_BUCKET is required for S3 storage")
	}

	region := os.Getenv("DOCUMENT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("DOCUMENT_S3_ENDPOINT"),
		Prefix:   os.Getenv("DOCUMENT_S3_PREFIX"),
	})
}
