package httpcache

import (
	"context"
	"fmt"
	"os"
)

// NewStoreFromEnv selects a cache Store backend from environment variables.
//
//   - WARK_CACHE_BACKEND: "fs" (default) or "s3"
//   - WARK_CACHE_DIR: base directory for the fs backend (default "http-cache")
//   - WARK_CACHE_S3_BUCKET (required for s3), WARK_CACHE_S3_REGION,
//     WARK_CACHE_S3_ENDPOINT, WARK_CACHE_S3_PREFIX (all optional beyond bucket)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := os.Getenv("WARK_CACHE_BACKEND")
	if backend == "" {
		backend = "fs"
	}

	switch backend {
	case "fs":
		dir := os.Getenv("WARK_CACHE_DIR")
		if dir == "" {
			dir = "http-cache"
		}
		return NewFileStore(dir)
	case "s3":
		bucket := os.Getenv("WARK_CACHE_S3_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("httpcache: WARK_CACHE_S3_BUCKET is required for the s3 backend")
		}
		region := os.Getenv("WARK_CACHE_S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   bucket,
			Region:   region,
			Endpoint: os.Getenv("WARK_CACHE_S3_ENDPOINT"),
			Prefix:   os.Getenv("WARK_CACHE_S3_PREFIX"),
		})
	default:
		return nil, fmt.Errorf("httpcache: unsupported cache backend %q", backend)
	}
}
