// Package fileprovider is the random-access byte-range reader over the
// input file, the one piece of "file-bytes provider" the specification
// explicitly treats as an opaque external collaborator. It is implemented
// here with gocloud.dev/blob so the same code path serves local disk,
// S3-compatible object storage, and GCS — generalizing the teacher's
// internal/storage (local/s3/gcs write backends) and internal/source
// (local/s3/gcs read backends) into one read-range abstraction, since this
// domain only ever needs to read.
package fileprovider

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// Provider is the byte-range access contract the row-range activities need.
// Directory is an opaque locator consumed verbatim (a gocloud.dev bucket
// URL, e.g. "file:///data/incoming" or "s3://my-bucket/incoming").
type Provider interface {
	// Size returns the size in bytes of Filename under Directory.
	Size(ctx context.Context, directory, filename string) (int64, error)

	// ReadRange returns the bytes in the half-open range [start, end) of
	// Filename under Directory.
	ReadRange(ctx context.Context, directory, filename string, start, end int64) ([]byte, error)

	// ReadPrefix returns up to maxBytes from the start of Filename, used by
	// analyzeFile to sample the row rate without reading the whole file.
	ReadPrefix(ctx context.Context, directory, filename string, maxBytes int64) ([]byte, error)
}

// BlobProvider is the production Provider, backed by gocloud.dev/blob.
// Buckets are opened per call and closed afterward; for the access pattern
// here (one analysis pass plus a handful of chunk reads per partition) the
// overhead of repeated open/close is negligible next to the I/O it wraps.
type BlobProvider struct{}

// NewBlobProvider returns the default Provider implementation.
func NewBlobProvider() *BlobProvider {
	return &BlobProvider{}
}

func (p *BlobProvider) Size(ctx context.Context, directory, filename string) (int64, error) {
	bucket, err := blob.OpenBucket(ctx, directory)
	if err != nil {
		return 0, fmt.Errorf("open bucket %s: %w", directory, err)
	}
	defer bucket.Close()

	attrs, err := bucket.Attributes(ctx, filename)
	if err != nil {
		return 0, fmt.Errorf("stat %s/%s: %w", directory, filename, err)
	}
	return attrs.Size, nil
}

func (p *BlobProvider) ReadRange(ctx context.Context, directory, filename string, start, end int64) ([]byte, error) {
	if end <= start {
		return nil, fmt.Errorf("invalid range [%d, %d)", start, end)
	}

	bucket, err := blob.OpenBucket(ctx, directory)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", directory, err)
	}
	defer bucket.Close()

	r, err := bucket.NewRangeReader(ctx, filename, start, end-start, nil)
	if err != nil {
		return nil, fmt.Errorf("open range reader %s/%s [%d,%d): %w", directory, filename, start, end, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read range %s/%s [%d,%d): %w", directory, filename, start, end, err)
	}
	return data, nil
}

func (p *BlobProvider) ReadPrefix(ctx context.Context, directory, filename string, maxBytes int64) ([]byte, error) {
	bucket, err := blob.OpenBucket(ctx, directory)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", directory, err)
	}
	defer bucket.Close()

	r, err := bucket.NewRangeReader(ctx, filename, 0, maxBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("open prefix reader %s/%s: %w", directory, filename, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read prefix %s/%s: %w", directory, filename, err)
	}
	return data, nil
}
