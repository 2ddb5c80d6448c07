package outbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatview/pkg/cache"
	"chatview/pkg/ident"
	"chatview/pkg/logger"
	"chatview/pkg/models"
	"chatview/pkg/remotelog"
	"chatview/pkg/transfer"
)

func init() { logger.Init() }

var testThread = models.ThreadRef{Kind: models.ThreadRoom, ID: "general"}

type nopSub struct{}

func (nopSub) Unsubscribe() {}

// stubLog records appends and can fail or block on demand.
type stubLog struct {
	mu       sync.Mutex
	appended []models.RemoteEvent
	failures int // fail this many appends before succeeding
	gate     chan struct{}
}

func (s *stubLog) Append(ctx context.Context, _ models.ThreadRef, key string, ev models.RemoteEvent) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("remote write rejected")
	}
	ev.ID = key
	s.appended = append(s.appended, ev)
	return nil
}

func (s *stubLog) Subscribe(context.Context, models.ThreadRef, remotelog.EventFunc) (remotelog.Subscription, error) {
	return nopSub{}, nil
}

func (s *stubLog) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appended)
}

// stubUploader returns a canned ref, optionally failing or blocking first.
type stubUploader struct {
	mu       sync.Mutex
	calls    int
	failures int
	gate     chan struct{}
	mime     string
	pcts     []int
}

func (u *stubUploader) Upload(ctx context.Context, name string, size int64, r io.Reader, onProgress transfer.ProgressFunc) (transfer.Ref, error) {
	u.mu.Lock()
	u.calls++
	fail := u.failures > 0
	if fail {
		u.failures--
	}
	gate := u.gate
	u.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return transfer.Ref{}, ctx.Err()
		}
	}
	if fail {
		return transfer.Ref{}, errors.New("connection reset")
	}
	for _, pct := range u.pcts {
		onProgress(pct)
	}
	onProgress(100)
	mime := u.mime
	if mime == "" {
		mime = "application/octet-stream"
	}
	return transfer.Ref{Ref: "blob/1", ByteSize: size, MimeType: mime}, nil
}

func (u *stubUploader) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

type fixture struct {
	mu      sync.Mutex
	cache   *cache.Thread
	pending *cache.Pending
	log     *stubLog
	up      *stubUploader
	ob      *Outbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cache:   cache.NewThread(),
		pending: cache.NewPending(),
		log:     &stubLog{},
		up:      &stubUploader{},
	}
	f.ob = New(Config{
		Mu:       &f.mu,
		Keys:     ident.New(),
		Log:      f.log,
		Uploader: f.up,
		Limits:   Limits{MaxTextLen: 100, MaxBlobBytes: 1 << 20},
		Self:     models.Profile{ID: "me", Name: "Me"},
		Thread:   testThread,
		Cache:    f.cache,
		Pending:  f.pending,
	})
	return f
}

func (f *fixture) status(key string) models.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.pending.Get(key); m != nil {
		return m.Status
	}
	return ""
}

func (f *fixture) waitStatus(t *testing.T, key string, want models.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return f.status(key) == want },
		time.Second, time.Millisecond, "want status %s", want)
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return !f.ob.Busy() }, time.Second, time.Millisecond)
}

func blob(data []byte) BlobSource {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

func TestSendText(t *testing.T) {
	f := newFixture(t)
	key, err := f.ob.Send("hello")
	require.NoError(t, err)
	f.waitStatus(t, key, models.StatusSent)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, 1, f.cache.Len())
	m := f.cache.All()[0]
	assert.Equal(t, key, m.ID)
	assert.Equal(t, key, m.CorrelationKey)
	assert.Equal(t, "me", m.SenderID)
	assert.Equal(t, 1, f.log.count())
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	var verr *models.ValidationError

	_, err := f.ob.Send("")
	require.ErrorAs(t, err, &verr)

	_, err = f.ob.Send(string(bytes.Repeat([]byte("a"), 101)))
	require.ErrorAs(t, err, &verr)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Zero(t, f.cache.Len(), "rejected input must create no state")
	assert.Zero(t, f.pending.Len())
}

func TestSecondSendRejectedWhileInFlight(t *testing.T) {
	f := newFixture(t)
	f.log.gate = make(chan struct{})

	_, err := f.ob.Send("first")
	require.NoError(t, err)
	_, err = f.ob.Send("second")
	require.ErrorIs(t, err, ErrBusy)

	close(f.log.gate)
	f.waitIdle(t)
	_, err = f.ob.Send("third")
	require.NoError(t, err)
}

func TestWriteFailureThenRetryReusesIdentity(t *testing.T) {
	f := newFixture(t)
	f.log.failures = 1

	key, err := f.ob.Send("hello")
	require.NoError(t, err)
	f.waitStatus(t, key, models.StatusFailed)
	f.waitIdle(t)

	require.NoError(t, f.ob.Retry(key))
	f.waitStatus(t, key, models.StatusSent)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, 1, f.cache.Len(), "retry must not create a second entry")
	m := f.cache.All()[0]
	assert.Equal(t, key, m.ID)
	assert.Equal(t, key, m.CorrelationKey)
}

func TestRetryErrors(t *testing.T) {
	f := newFixture(t)
	var verr *models.ValidationError
	require.ErrorAs(t, f.ob.Retry("nope"), &verr)

	key, err := f.ob.Send("ok")
	require.NoError(t, err)
	f.waitStatus(t, key, models.StatusSent)
	require.ErrorAs(t, f.ob.Retry(key), &verr, "only failed sends can be retried")
}

func TestAttachUploadsThenWrites(t *testing.T) {
	f := newFixture(t)
	f.up.mime = "image/png"
	f.up.pcts = []int{25, 50, 75}

	key, err := f.ob.AttachAndSend("pic.png", 512, blob(make([]byte, 512)), "look")
	require.NoError(t, err)
	f.waitStatus(t, key, models.StatusSent)

	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.pending.Get(key)
	require.NotNil(t, m)
	assert.Equal(t, models.PayloadImage, m.Payload.Kind)
	assert.Equal(t, "blob/1", m.Payload.Ref)
	assert.Equal(t, "look", m.Payload.Text)
	assert.Zero(t, m.Progress)
	assert.Equal(t, 1, f.log.count())
}

func TestAttachValidation(t *testing.T) {
	f := newFixture(t)
	var verr *models.ValidationError
	_, err := f.ob.AttachAndSend("", 10, blob(nil), "")
	require.ErrorAs(t, err, &verr)
	_, err = f.ob.AttachAndSend("f", 0, blob(nil), "")
	require.ErrorAs(t, err, &verr)
	_, err = f.ob.AttachAndSend("f", 2<<20, blob(nil), "")
	require.ErrorAs(t, err, &verr)
}

func TestTransferFailureRetryReuploads(t *testing.T) {
	f := newFixture(t)
	f.up.failures = 1

	key, err := f.ob.AttachAndSend("doc.pdf", 64, blob(make([]byte, 64)), "")
	require.NoError(t, err)
	f.waitStatus(t, key, models.StatusFailed)
	f.waitIdle(t)

	require.NoError(t, f.ob.Retry(key))
	f.waitStatus(t, key, models.StatusSent)
	assert.Equal(t, 2, f.up.callCount(), "transfer failure retries the upload itself")
}

func TestWriteFailureAfterUploadRetrySkipsUpload(t *testing.T) {
	f := newFixture(t)
	f.log.failures = 1

	key, err := f.ob.AttachAndSend("doc.pdf", 64, blob(make([]byte, 64)), "")
	require.NoError(t, err)
	f.waitStatus(t, key, models.StatusFailed)
	f.waitIdle(t)

	require.NoError(t, f.ob.Retry(key))
	f.waitStatus(t, key, models.StatusSent)
	assert.Equal(t, 1, f.up.callCount(), "uploaded ref must be reused, not re-uploaded")
	assert.Equal(t, 1, f.log.count())
}

func TestCancelDuringUploadLeavesNoTrace(t *testing.T) {
	// Scenario E: cancel mid-transfer, then let the transfer resolve late.
	f := newFixture(t)
	f.up.gate = make(chan struct{})

	key, err := f.ob.AttachAndSend("pic.png", 512, blob(make([]byte, 512)), "")
	require.NoError(t, err)
	require.NoError(t, f.ob.Cancel(key))
	close(f.up.gate)

	// Give the late resolution a moment to run, then verify nothing exists.
	time.Sleep(20 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Zero(t, f.cache.Len(), "no cache entry may survive a cancel")
	assert.Zero(t, f.pending.Len(), "no pending entry may survive a cancel")
	assert.Zero(t, f.log.count(), "cancelled upload must not reach the log")
	assert.Empty(t, f.ob.inFlightKey)
}

func TestCancelFailedKeepsLatchOfOtherSend(t *testing.T) {
	f := newFixture(t)
	f.log.failures = 1

	keyA, err := f.ob.Send("first")
	require.NoError(t, err)
	f.waitStatus(t, keyA, models.StatusFailed)
	f.waitIdle(t)

	// Second send parked on a gated remote write: it holds the latch.
	f.log.gate = make(chan struct{})
	keyB, err := f.ob.Send("second")
	require.NoError(t, err)
	require.True(t, f.ob.Busy())

	// Abandoning the failed first send must not release the second's latch.
	require.NoError(t, f.ob.Cancel(keyA))
	_, err = f.ob.Send("third")
	require.ErrorIs(t, err, ErrBusy)

	close(f.log.gate)
	f.waitStatus(t, keyB, models.StatusSent)
	f.waitIdle(t)
	_, err = f.ob.Send("third")
	require.NoError(t, err)
}

func TestCancelAckedSendRejected(t *testing.T) {
	f := newFixture(t)
	key, err := f.ob.Send("hello")
	require.NoError(t, err)
	f.waitStatus(t, key, models.StatusSent)

	var verr *models.ValidationError
	require.ErrorAs(t, f.ob.Cancel(key), &verr, "an acknowledged write cannot be cancelled")

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.cache.Len(), "the sent message must stay rendered")
	assert.NotNil(t, f.pending.Get(key), "the echo still needs the pending entry to merge into")
}

func TestCancelUnknownKey(t *testing.T) {
	f := newFixture(t)
	var verr *models.ValidationError
	require.ErrorAs(t, f.ob.Cancel("nope"), &verr)
}
