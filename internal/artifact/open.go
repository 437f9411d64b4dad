package artifact

import (
	"context"

	"auction-batch/internal/config"
)

// OpenStores builds the backend table used by health checks. The file backend
// is always available; s3 is added when a bucket is configured, and is also
// returned on its own for log uploads.
func OpenStores(ctx context.Context, cfg config.Config) (map[string]Store, *S3Store, error) {
	stores := map[string]Store{config.BackendFile: NewLocalStore("")}
	if cfg.S3Bucket == "" {
		return stores, nil, nil
	}
	s3Store, err := NewS3StoreFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	stores[config.BackendS3] = s3Store
	return stores, s3Store, nil
}
