// Package blob defines the content-addressed record store abstraction and a
// driver factory. Records are small JSON documents keyed by content hash, so
// writes are create-only and re-writing an identical payload is a no-op.
package blob

import (
	"context"
	"fmt"

	"carechain/internal/config"
	fsstore "carechain/internal/infra/blob/fs"
	memorystore "carechain/internal/infra/blob/memory"
	s3store "carechain/internal/infra/blob/s3"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local filesystem (default, dev)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-memory (tests)
)

// Store persists immutable JSON documents under content-derived keys.
type Store interface {
	// Put stores data at key and returns the opaque reference used to read
	// it back. Storing identical bytes at an existing key succeeds;
	// differing bytes are rejected.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get retrieves the document at ref. A missing ref yields an error
	// matching domain.IsNotFound.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Driver returns the configured backend driver string.
	Driver() string
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// NewFilesystem returns a Store rooted at dir.
func NewFilesystem(dir string) (Store, error) { return fsstore.New(dir) }

// Open selects a Store implementation from configuration.
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverFilesystem, "":
		return fsstore.New(cfg.FSRoot)
	case DriverS3:
		return s3store.New(ctx, s3store.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
