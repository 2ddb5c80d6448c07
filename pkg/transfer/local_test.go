package transfer

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatview/pkg/logger"
	"chatview/pkg/models"
)

func init() { logger.Init() }

func newStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestUploadReportsMonotonicProgress(t *testing.T) {
	s := newStore(t)
	data := bytes.Repeat([]byte("x"), 100*1024)
	var pcts []int
	ref, err := s.Upload(context.Background(), "big.bin", int64(len(data)), bytes.NewReader(data), func(pct int) {
		pcts = append(pcts, pct)
	})
	require.NoError(t, err)
	assert.EqualValues(t, len(data), ref.ByteSize)

	require.NotEmpty(t, pcts)
	for i := 1; i < len(pcts); i++ {
		assert.GreaterOrEqual(t, pcts[i], pcts[i-1])
	}
	assert.Equal(t, 100, pcts[len(pcts)-1])

	stored, err := os.ReadFile(s.Path(ref.Ref))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestUploadDetectsMime(t *testing.T) {
	s := newStore(t)
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, make([]byte, 64)...)
	ref, err := s.Upload(context.Background(), "pic.png", int64(len(png)), bytes.NewReader(png), nil)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ref.MimeType)
	assert.Equal(t, models.PayloadImage, PayloadKindFor(ref.MimeType))
}

func TestPayloadKindFor(t *testing.T) {
	assert.Equal(t, models.PayloadImage, PayloadKindFor("image/jpeg"))
	assert.Equal(t, models.PayloadVideo, PayloadKindFor("video/mp4"))
	assert.Equal(t, models.PayloadFile, PayloadKindFor("application/pdf"))
	assert.Equal(t, models.PayloadFile, PayloadKindFor(""))
}

// slowReader blocks after the first chunk until released.
type slowReader struct {
	first   bool
	release chan struct{}
}

func (r *slowReader) Read(p []byte) (int, error) {
	if !r.first {
		r.first = true
		return copy(p, bytes.Repeat([]byte("y"), len(p))), nil
	}
	<-r.release
	return 0, io.EOF
}

func TestUploadCancelRemovesPartial(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	r := &slowReader{release: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := s.Upload(ctx, "part.bin", 1<<20, r, nil)
		done <- err
	}()
	cancel()
	close(r.release)
	err := <-done
	require.ErrorIs(t, err, context.Canceled)

	entries, rerr := os.ReadDir(s.dir)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "partial blob must be removed")
}

func TestUploadSortableRefs(t *testing.T) {
	s := newStore(t)
	r1, err := s.Upload(context.Background(), "a", 1, strings.NewReader("a"), nil)
	require.NoError(t, err)
	r2, err := s.Upload(context.Background(), "b", 1, strings.NewReader("b"), nil)
	require.NoError(t, err)
	assert.Less(t, r1.Ref, r2.Ref)
}
