package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is wrapped by GetObject and StatObject when the key
// does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStorage is the blob store used for source archives and evaluation reports.
type ObjectStorage interface {
	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// PutObject uploads sizeBytes from reader. A negative size streams.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)
}

// ObjectStat contains object metadata.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
