// Package storage persists finalized sessions to a blob bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"

	// Bucket drivers selectable by URL scheme.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Sink is a durable destination for session artifacts.
type Sink interface {
	// Put stores data under key and returns a reference to the stored object.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ErrEmptyKey is returned by Put for an empty object key.
var ErrEmptyKey = errors.New("storage: empty key")

// BlobSink writes objects to a gocloud.dev bucket.
type BlobSink struct {
	bucket *blob.Bucket
	url    string
}

// Open opens the bucket at url, e.g. "file:///var/lib/bridge?create_dir=true",
// "mem://", "s3://bucket?region=eu-west-1" or "gs://bucket".
func Open(ctx context.Context, url string) (*BlobSink, error) {
	if url == "" {
		return nil, errors.New("storage: bucket URL is required")
	}
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("storage: open bucket %q: %w", url, err)
	}
	log.Info().Str("bucket", redact(url)).Msg("Session sink opened")
	return &BlobSink{bucket: b, url: url}, nil
}

// NewBlobSink wraps an already opened bucket.
func NewBlobSink(b *blob.Bucket, url string) *BlobSink {
	return &BlobSink{bucket: b, url: url}
}

// Put implements Sink. The reference is the bucket URL joined with key.
func (s *BlobSink) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	opts := &blob.WriterOptions{ContentType: contentType}
	if err := s.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return "", fmt.Errorf("storage: write %q: %w", key, err)
	}
	return s.ref(key), nil
}

// Get reads an object back. Used by tooling and tests.
func (s *BlobSink) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("storage: read %q: %w", key, err)
	}
	return data, nil
}

// ContentType returns the stored content type of key.
func (s *BlobSink) ContentType(ctx context.Context, key string) (string, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return "", fmt.Errorf("storage: attributes %q: %w", key, err)
	}
	return attrs.ContentType, nil
}

// Close releases the bucket.
func (s *BlobSink) Close() error {
	return s.bucket.Close()
}

func (s *BlobSink) ref(key string) string {
	base := redact(s.url)
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	if strings.HasSuffix(base, "://") {
		return base + key
	}
	return strings.TrimRight(base, "/") + "/" + key
}

// redact drops credentials embedded in a bucket URL.
func redact(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	if at := strings.Index(rest, "@"); at >= 0 {
		slash := strings.Index(rest, "/")
		if slash < 0 || at < slash {
			rest = rest[at+1:]
		}
	}
	return scheme + "://" + rest
}
