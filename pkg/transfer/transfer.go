// Package transfer moves attachment blobs to storage, reporting progress.
// Progress values are non-decreasing and end at 100 on success. An upload
// is cancellable through its context.
package transfer

import (
	"context"
	"io"

	"chatview/pkg/models"
)

// Ref describes a stored blob.
type Ref struct {
	Ref      string `json:"ref"`
	ByteSize int64  `json:"byte_size"`
	MimeType string `json:"mime_type"`
}

// ProgressFunc receives percentages in [0,100].
type ProgressFunc func(pct int)

// Uploader is the binary-object transfer collaborator.
type Uploader interface {
	Upload(ctx context.Context, name string, size int64, r io.Reader, onProgress ProgressFunc) (Ref, error)
}

// PayloadKindFor maps a sniffed mime type onto the message payload variant.
func PayloadKindFor(mime string) models.PayloadKind {
	switch {
	case len(mime) >= 6 && mime[:6] == "image/":
		return models.PayloadImage
	case len(mime) >= 6 && mime[:6] == "video/":
		return models.PayloadVideo
	default:
		return models.PayloadFile
	}
}
