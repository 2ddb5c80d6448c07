// Package outbox drives the lifecycle of an outgoing message: placeholder
// creation, transfer, remote write, retry and cancel. Every transition
// mutates the single record shared between the pending table and the
// cache, so the rendered view follows without a broadcast step.
package outbox

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"chatview/pkg/cache"
	"chatview/pkg/ident"
	"chatview/pkg/logger"
	"chatview/pkg/metrics"
	"chatview/pkg/models"
	"chatview/pkg/remotelog"
	"chatview/pkg/transfer"
)

// ErrBusy rejects a second send while one is in flight. Sends are rejected,
// not queued, to keep correlation-key bookkeeping simple.
var ErrBusy = errors.New("a send is already in flight")

// Limits bounds composer input. Zero values fall back to defaults.
type Limits struct {
	MaxTextLen   int
	MaxBlobBytes int64
}

const (
	defaultMaxTextLen   = 4096
	defaultMaxBlobBytes = 64 << 20
)

// BlobSource re-opens the attachment bytes. It is kept until the message
// reaches a terminal state so a retry after a transfer failure can re-read
// the original blob.
type BlobSource func() (io.ReadCloser, error)

// attempt retains what a retry needs: the payload source and, once the
// transfer succeeded, the uploaded ref so a write-side retry does not
// upload again.
type attempt struct {
	name     string
	size     int64
	source   BlobSource
	caption  string
	uploaded *transfer.Ref
	cancel   context.CancelFunc
}

// Outbox is the send state machine for one open thread. It shares mu with
// the owning session: all state transitions happen under that lock, with
// suspension only at the transfer and remote-write boundaries.
type Outbox struct {
	mu       *sync.Mutex
	keys     *ident.Generator
	log      remotelog.Log
	uploader transfer.Uploader
	limits   Limits
	self     models.Profile
	thread   models.ThreadRef
	cache    *cache.Thread
	pending  *cache.Pending

	// inFlightKey is the correlation key of the attempt currently holding
	// the one-in-flight latch; empty when idle. Terminal transitions for
	// other keys (cancelling a failed placeholder, a late ack) must not
	// release it.
	inFlightKey string
	attempts    map[string]*attempt
	now         func() int64
}

// Config wires an Outbox.
type Config struct {
	Mu       *sync.Mutex
	Keys     *ident.Generator
	Log      remotelog.Log
	Uploader transfer.Uploader
	Limits   Limits
	Self     models.Profile
	Thread   models.ThreadRef
	Cache    *cache.Thread
	Pending  *cache.Pending
}

// New returns an Outbox for one thread session.
func New(cfg Config) *Outbox {
	l := cfg.Limits
	if l.MaxTextLen <= 0 {
		l.MaxTextLen = defaultMaxTextLen
	}
	if l.MaxBlobBytes <= 0 {
		l.MaxBlobBytes = defaultMaxBlobBytes
	}
	return &Outbox{
		mu:       cfg.Mu,
		keys:     cfg.Keys,
		log:      cfg.Log,
		uploader: cfg.Uploader,
		limits:   l,
		self:     cfg.Self,
		thread:   cfg.Thread,
		cache:    cfg.Cache,
		pending:  cfg.Pending,
		attempts: make(map[string]*attempt),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Send creates a text placeholder and persists it to the remote log in the
// background. Returns the correlation key of the new message.
func (o *Outbox) Send(text string) (string, error) {
	if text == "" {
		metrics.SendTotal.WithLabelValues("rejected").Inc()
		return "", &models.ValidationError{Field: "text", Reason: "empty"}
	}
	if len(text) > o.limits.MaxTextLen {
		metrics.SendTotal.WithLabelValues("rejected").Inc()
		return "", &models.ValidationError{Field: "text", Reason: "too long"}
	}

	o.mu.Lock()
	if o.inFlightKey != "" {
		o.mu.Unlock()
		metrics.SendTotal.WithLabelValues("rejected").Inc()
		return "", ErrBusy
	}
	key := o.keys.Next()
	m := o.placeholder(key, models.StatusSending, models.TextPayload(text))
	ctx, cancel := context.WithCancel(context.Background())
	o.attempts[key] = &attempt{cancel: cancel}
	o.inFlightKey = key
	o.mu.Unlock()

	go o.write(ctx, key, m)
	return key, nil
}

// AttachAndSend creates an uploading placeholder, transfers the blob and
// then persists the message. caption may be empty. Returns the correlation
// key.
func (o *Outbox) AttachAndSend(name string, size int64, source BlobSource, caption string) (string, error) {
	if source == nil || name == "" {
		metrics.SendTotal.WithLabelValues("rejected").Inc()
		return "", &models.ValidationError{Field: "file", Reason: "missing"}
	}
	if size <= 0 || size > o.limits.MaxBlobBytes {
		metrics.SendTotal.WithLabelValues("rejected").Inc()
		return "", &models.ValidationError{Field: "file", Reason: "bad size"}
	}
	if len(caption) > o.limits.MaxTextLen {
		metrics.SendTotal.WithLabelValues("rejected").Inc()
		return "", &models.ValidationError{Field: "caption", Reason: "too long"}
	}

	o.mu.Lock()
	if o.inFlightKey != "" {
		o.mu.Unlock()
		metrics.SendTotal.WithLabelValues("rejected").Inc()
		return "", ErrBusy
	}
	key := o.keys.Next()
	m := o.placeholder(key, models.StatusUploading, models.Payload{
		Kind: models.PayloadFile,
		Name: name,
		Size: size,
		Text: caption,
	})
	ctx, cancel := context.WithCancel(context.Background())
	o.attempts[key] = &attempt{name: name, size: size, source: source, caption: caption, cancel: cancel}
	o.inFlightKey = key
	o.mu.Unlock()

	go o.upload(ctx, key, m)
	return key, nil
}

// Retry re-runs a failed send under its original correlation key, so a
// late echo of the first attempt still reconciles instead of orphaning.
// A transfer that already completed is not repeated: the uploaded ref is
// reused and only the remote write is retried.
func (o *Outbox) Retry(key string) error {
	o.mu.Lock()
	m := o.pending.Get(key)
	att := o.attempts[key]
	if m == nil || att == nil {
		o.mu.Unlock()
		return &models.ValidationError{Field: "correlation_key", Reason: "unknown"}
	}
	if m.Status != models.StatusFailed {
		o.mu.Unlock()
		return &models.ValidationError{Field: "correlation_key", Reason: "not failed"}
	}
	if o.inFlightKey != "" {
		o.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	att.cancel = cancel
	o.inFlightKey = key
	switch {
	case att.source == nil:
		m.Status = models.StatusSending
	case att.uploaded != nil:
		m.Status = models.StatusSending
	default:
		m.Status = models.StatusUploading
		m.Progress = 0
	}
	o.mu.Unlock()

	switch {
	case att.source == nil:
		go o.write(ctx, key, m)
	case att.uploaded != nil:
		go o.writeBlob(ctx, key, m, *att.uploaded)
	default:
		go o.upload(ctx, key, m)
	}
	return nil
}

// Cancel aborts an in-flight or failed send and removes every trace of the
// placeholder. Distinct from failure: there is no retry affordance, and a
// transfer resolving late finds nothing to update. A message whose write
// was already acknowledged cannot be cancelled: the remote holds it, and
// the echo would resurrect whatever Cancel removed.
func (o *Outbox) Cancel(key string) error {
	o.mu.Lock()
	m := o.pending.Get(key)
	att := o.attempts[key]
	if m == nil {
		o.mu.Unlock()
		return &models.ValidationError{Field: "correlation_key", Reason: "unknown"}
	}
	if m.Status == models.StatusSent {
		o.mu.Unlock()
		return &models.ValidationError{Field: "correlation_key", Reason: "already sent"}
	}
	o.pending.Remove(key)
	o.cache.Remove(m.ID)
	delete(o.attempts, key)
	if o.inFlightKey == key {
		o.inFlightKey = ""
	}
	o.mu.Unlock()

	if att != nil && att.cancel != nil {
		att.cancel()
	}
	metrics.SendTotal.WithLabelValues("cancelled").Inc()
	logger.Info("send_cancelled", "key", key)
	return nil
}

// Busy reports whether a send is in flight.
func (o *Outbox) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlightKey != ""
}

// placeholder builds and registers the shared message record. Caller holds mu.
func (o *Outbox) placeholder(key string, st models.Status, p models.Payload) *models.Message {
	m := &models.Message{
		ID:             key,
		CorrelationKey: key,
		Thread:         o.thread,
		SenderID:       o.self.ID,
		SenderName:     o.self.Name,
		SenderAvatar:   o.self.Avatar,
		CreatedAt:      o.now(),
		Payload:        p,
		Status:         st,
	}
	o.pending.Register(key, m)
	o.cache.Upsert(m)
	logger.Debug("placeholder_created", "key", key, "status", string(st))
	return m
}

// upload runs the transfer, then hands off to the remote write.
func (o *Outbox) upload(ctx context.Context, key string, m *models.Message) {
	o.mu.Lock()
	att := o.attempts[key]
	o.mu.Unlock()
	if att == nil {
		return // cancelled before the transfer started
	}

	rc, err := att.source()
	if err != nil {
		o.fail(key, m, &models.TransferError{Key: key, Err: err})
		return
	}
	ref, err := o.uploader.Upload(ctx, att.name, att.size, rc, func(pct int) {
		o.progress(key, m, pct)
	})
	_ = rc.Close()
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled: the placeholder is already gone (Cancel removed
			// it); leave no trace and no failed state behind.
			logger.Debug("transfer_cancelled", "key", key)
			return
		}
		o.fail(key, m, &models.TransferError{Key: key, Err: err})
		return
	}

	o.mu.Lock()
	if o.pending.Get(key) == nil {
		// Cancelled while the transfer was resolving.
		o.mu.Unlock()
		return
	}
	att.uploaded = &ref
	m.Payload = models.Payload{
		Kind: transfer.PayloadKindFor(ref.MimeType),
		Ref:  ref.Ref,
		Name: att.name,
		Size: ref.ByteSize,
		Text: att.caption,
	}
	m.Status = models.StatusSending
	m.Progress = 0
	o.mu.Unlock()

	o.writeBlob(ctx, key, m, ref)
}

// writeBlob persists an attachment message whose transfer already finished.
func (o *Outbox) writeBlob(ctx context.Context, key string, m *models.Message, ref transfer.Ref) {
	o.mu.Lock()
	ev := o.eventFor(m)
	o.mu.Unlock()
	if err := o.log.Append(ctx, o.thread, key, ev); err != nil {
		if ctx.Err() != nil {
			return
		}
		o.fail(key, m, &models.WriteError{Key: key, Err: err})
		return
	}
	o.ack(key, m)
}

// write persists a text message.
func (o *Outbox) write(ctx context.Context, key string, m *models.Message) {
	o.mu.Lock()
	ev := o.eventFor(m)
	o.mu.Unlock()
	if err := o.log.Append(ctx, o.thread, key, ev); err != nil {
		if ctx.Err() != nil {
			return
		}
		o.fail(key, m, &models.WriteError{Key: key, Err: err})
		return
	}
	o.ack(key, m)
}

// eventFor snapshots the record for the wire. Caller holds mu.
func (o *Outbox) eventFor(m *models.Message) models.RemoteEvent {
	return models.RemoteEvent{
		ID:             m.ID,
		CorrelationKey: m.CorrelationKey,
		Thread:         o.thread,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		SenderAvatar:   m.SenderAvatar,
		CreatedAt:      m.CreatedAt,
		Payload:        m.Payload,
	}
}

// progress records transfer progress while the placeholder still exists
// and is still uploading.
func (o *Outbox) progress(key string, m *models.Message, pct int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending.Get(key) == nil || m.Status != models.StatusUploading {
		return
	}
	if pct > m.Progress {
		m.Progress = pct
	}
}

// ack marks the write acknowledged. The echo may already have reconciled
// the message to delivered; ack never downgrades it.
func (o *Outbox) ack(key string, m *models.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlightKey == key {
		o.inFlightKey = ""
	}
	delete(o.attempts, key)
	metrics.SendTotal.WithLabelValues("sent").Inc()
	if o.pending.Get(key) == nil {
		// Already reconciled to delivered by the echo, or cancelled after
		// the write went out; nothing left to transition.
		return
	}
	if m.Pending() {
		m.Status = models.StatusSent
	}
	logger.Info("send_acked", "key", key)
}

// fail moves the placeholder to failed, keeping the pending entry and the
// attempt context so Retry can re-enter under the same key.
func (o *Outbox) fail(key string, m *models.Message, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlightKey == key {
		o.inFlightKey = ""
	}
	if o.pending.Get(key) == nil {
		return // cancelled meanwhile
	}
	m.Status = models.StatusFailed
	m.Progress = 0
	metrics.SendTotal.WithLabelValues("failed").Inc()
	logger.Warn("send_failed", "key", key, "error", cause)
}
