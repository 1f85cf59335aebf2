// Package blob is the archival sink for expired fraud-detection logs: a
// minimal key/value blob interface with a local-filesystem implementation.
package blob

import (
	"context"
	"io"
)

// BlobStore stores immutable archive objects under hierarchical keys
// (e.g. "fraud/2026/08/05/...jsonl.gz").
type BlobStore interface {
	// Put uploads content under key, overwriting any existing object.
	Put(ctx context.Context, key string, reader io.Reader) error

	// Get retrieves the object stored under key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error
}
