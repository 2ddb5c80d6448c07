package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"chatview/pkg/ident"
	"chatview/pkg/logger"
	"chatview/pkg/metrics"
)

const copyChunk = 32 * 1024

// LocalStore writes blobs into a media directory. The blob ref is a fresh
// sortable key, so media files list in upload order.
type LocalStore struct {
	dir  string
	keys *ident.Generator
}

// NewLocalStore creates the media directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalStore{dir: dir, keys: ident.New()}, nil
}

// Path returns the on-disk path for a blob ref.
func (s *LocalStore) Path(ref string) string {
	return filepath.Join(s.dir, ref)
}

// Upload copies r into the store in chunks, reporting progress after each
// chunk. Cancellation removes the partial file and returns ctx.Err; no
// partial blob is ever left addressable.
func (s *LocalStore) Upload(ctx context.Context, name string, size int64, r io.Reader, onProgress ProgressFunc) (Ref, error) {
	key := s.keys.Next()
	path := s.Path(key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return Ref{}, fmt.Errorf("create blob: %w", err)
	}

	metrics.UploadsInFlight.Inc()
	defer metrics.UploadsInFlight.Dec()

	abort := func(cause error) (Ref, error) {
		_ = f.Close()
		_ = os.Remove(path)
		return Ref{}, cause
	}

	var written int64
	var head []byte // first bytes, for content sniffing
	buf := make([]byte, copyChunk)
	for {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return abort(fmt.Errorf("write blob: %w", werr))
			}
			if len(head) < 3072 {
				head = append(head, buf[:min(n, 3072-len(head))]...)
			}
			written += int64(n)
			if onProgress != nil && size > 0 {
				pct := int(written * 100 / size)
				if pct > 100 {
					pct = 100
				}
				onProgress(pct)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return abort(fmt.Errorf("read blob: %w", rerr))
		}
	}
	// A cancel that raced the final read still wins over completion.
	if err := ctx.Err(); err != nil {
		return abort(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return Ref{}, fmt.Errorf("close blob: %w", err)
	}
	if onProgress != nil {
		onProgress(100)
	}

	mt := mimetype.Detect(head)
	logger.Debug("blob_stored", "ref", key, "name", name, "bytes", written, "mime", mt.String())
	return Ref{Ref: key, ByteSize: written, MimeType: mt.String()}, nil
}
