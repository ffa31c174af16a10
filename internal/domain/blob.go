package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver writes closed positions to cold storage and returns the location
// written.
type Archiver interface {
	ArchiveClosed(ctx context.Context, positions []Position, at time.Time) (string, error)
}
