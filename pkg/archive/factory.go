package archive

import (
	"context"
	"fmt"
	"os"
)

// Backend selects the archive storage implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// NewStoreFromEnv creates an archive store from environment variables.
//
// Environment variables:
//   - KEEL_ARCHIVE_BACKEND: "fs" (default), "s3", or "gcs"
//   - KEEL_ARCHIVE_DIR: base directory for the fs backend (default "archive")
//
// For S3:
//   - KEEL_ARCHIVE_S3_BUCKET (required)
//   - KEEL_ARCHIVE_S3_REGION or AWS_REGION
//   - KEEL_ARCHIVE_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - KEEL_ARCHIVE_S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - KEEL_ARCHIVE_GCS_BUCKET (required)
//   - KEEL_ARCHIVE_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := Backend(os.Getenv("KEEL_ARCHIVE_BACKEND"))
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		dir := os.Getenv("KEEL_ARCHIVE_DIR")
		if dir == "" {
			dir = "archive"
		}
		return NewFileStore(dir)
	case BackendS3:
		return newS3StoreFromEnv(ctx)
	case BackendGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("archive: unsupported backend: %s", backend)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("KEEL_ARCHIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("archive: KEEL_ARCHIVE_S3_BUCKET is required for the s3 backend")
	}

	region := os.Getenv("KEEL_ARCHIVE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("KEEL_ARCHIVE_S3_ENDPOINT"),
		Prefix:   os.Getenv("KEEL_ARCHIVE_S3_PREFIX"),
	})
}
