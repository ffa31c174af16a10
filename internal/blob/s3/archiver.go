package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// ClosedArchive writes batches of closed positions as JSON lines objects.
type ClosedArchive struct {
	writer domain.BlobWriter
	prefix string
}

var _ domain.Archiver = (*ClosedArchive)(nil)

// NewClosedArchive creates an archive rooted at prefix.
func NewClosedArchive(writer domain.BlobWriter, prefix string) *ClosedArchive {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "positions"
	}
	return &ClosedArchive{writer: writer, prefix: prefix}
}

// ArchiveClosed uploads positions as one object and returns its key. Payloads
// larger than one multipart part go through the multipart uploader.
func (a *ClosedArchive) ArchiveClosed(ctx context.Context, positions []domain.Position, at time.Time) (string, error) {
	if len(positions) == 0 {
		return "", nil
	}
	buf, err := marshalJSONL(positions)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive closed: %w", err)
	}

	key := ArchiveKey(a.prefix, at)
	if int64(len(buf)) > MinPartSize {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), jsonLinesType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive closed: %w", err)
	}
	return key, nil
}

// ArchiveKey returns the object key for an archive written at t, partitioned
// by UTC day.
//
//	positions/2024/03/01/closed-1709294400000000000.jsonl
func ArchiveKey(prefix string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/closed-%d.jsonl", prefix, t.Format("2006/01/02"), t.UnixNano())
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	for i, rec := range records {
		line, err := sonic.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
