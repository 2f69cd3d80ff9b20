package store

import (
	"context"
	"fmt"
	"path/filepath"

	"trackd/internal/config"
	"trackd/internal/tracking"
)

// NewStoreFromConfig creates a RecordStore implementation based on the store
// config type.
func NewStoreFromConfig(ctx context.Context, cfg config.StoreConfig) (tracking.RecordStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.Name), nil
	case "filesystem":
		if cfg.FSBaseDir == "" {
			return nil, fmt.Errorf("filesystem store requires fs_base_dir to be set")
		}
		return NewFilesystemStore(cfg.Name, cfg.FSBaseDir)
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("sqlite store requires data_dir to be set")
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "trackd.db"))
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 store requires s3_bucket to be set")
		}
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
