// Package session binds the currently open thread to exactly one remote
// subscription and owns that thread's cache, pending table, dedup ledger,
// ordering queue and outbox. Switching threads detaches the old feed
// before the new one attaches, so events from two threads never interleave
// into one queue.
package session

import (
	"context"
	"errors"
	"sync"

	"chatview/pkg/cache"
	"chatview/pkg/ident"
	"chatview/pkg/logger"
	"chatview/pkg/metrics"
	"chatview/pkg/models"
	"chatview/pkg/ordering"
	"chatview/pkg/outbox"
	"chatview/pkg/profile"
	"chatview/pkg/reconcile"
	"chatview/pkg/remotelog"
	"chatview/pkg/transfer"
)

// ErrNoThread is returned by message operations while no thread is open.
var ErrNoThread = errors.New("no thread open")

// Config wires a Session.
type Config struct {
	Log      remotelog.Log
	Uploader transfer.Uploader
	Resolver profile.Resolver
	Self     models.Profile
	Limits   outbox.Limits
}

// binding is the per-open-thread state, discarded wholesale on switch.
type binding struct {
	thread  models.ThreadRef
	cache   *cache.Thread
	pending *cache.Pending
	ledger  *cache.Ledger
	engine  *reconcile.Engine
	queue   *ordering.Queue
	outbox  *outbox.Outbox
	sub     remotelog.Subscription
}

// Session is the engine facade handed to the presentation layer.
type Session struct {
	mu       sync.Mutex
	log      remotelog.Log
	uploader transfer.Uploader
	resolver profile.Resolver
	keys     *ident.Generator
	self     models.Profile
	limits   outbox.Limits

	cur *binding
}

// New returns a Session with no thread open.
func New(cfg Config) *Session {
	return &Session{
		log:      cfg.Log,
		uploader: cfg.Uploader,
		resolver: cfg.Resolver,
		keys:     ident.New(),
		self:     cfg.Self,
		limits:   cfg.Limits,
	}
}

// Open attaches the session to thread, closing any previously open thread
// first. Historical backlog replays through the same reconcile path as
// live events.
func (s *Session) Open(ctx context.Context, thread models.ThreadRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		s.closeLocked()
	}

	b := &binding{
		thread:  thread,
		cache:   cache.NewThread(),
		pending: cache.NewPending(),
		ledger:  cache.NewLedger(),
	}
	b.engine = reconcile.New(b.cache, b.pending, b.ledger)
	b.queue = ordering.New(s.enrich, func(ev *models.RemoteEvent) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cur != b {
			return // thread switched while the event was in flight
		}
		b.engine.Apply(ev)
		metrics.CacheSize.Set(float64(b.cache.Len()))
	})
	b.outbox = outbox.New(outbox.Config{
		Mu:       &s.mu,
		Keys:     s.keys,
		Log:      s.log,
		Uploader: s.uploader,
		Limits:   s.limits,
		Self:     s.self,
		Thread:   thread,
		Cache:    b.cache,
		Pending:  b.pending,
	})
	s.cur = b

	sub, err := s.log.Subscribe(ctx, thread, func(ev models.RemoteEvent) {
		b.queue.Enqueue(&ev)
	})
	if err != nil {
		b.queue.Close()
		s.cur = nil
		return &models.SubscriptionError{Thread: thread, Err: err}
	}
	b.sub = sub
	logger.Info("thread_opened", "thread", thread.String())
	return nil
}

// Close detaches the open thread, if any, discarding its local view.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// closeLocked unsubscribes first, then drops the queue and the per-thread
// structures. Caller holds mu.
func (s *Session) closeLocked() {
	b := s.cur
	if b == nil {
		return
	}
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	b.queue.Close()
	s.cur = nil
	metrics.CacheSize.Set(0)
	logger.Info("thread_closed", "thread", b.thread.String())
}

// Thread returns the open thread ref, if any.
func (s *Session) Thread() (models.ThreadRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return models.ThreadRef{}, false
	}
	return s.cur.thread, true
}

// Messages returns a value snapshot of the open thread's view in render
// order. Snapshots stay stable while the live records keep transitioning.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	live := s.cur.cache.All()
	out := make([]models.Message, len(live))
	for i, m := range live {
		out[i] = *m
	}
	return out
}

// Send sends a text message on the open thread.
func (s *Session) Send(text string) (string, error) {
	ob, err := s.outboxRef()
	if err != nil {
		return "", err
	}
	return ob.Send(text)
}

// AttachAndSend uploads a blob and sends it with an optional caption.
func (s *Session) AttachAndSend(name string, size int64, source outbox.BlobSource, caption string) (string, error) {
	ob, err := s.outboxRef()
	if err != nil {
		return "", err
	}
	return ob.AttachAndSend(name, size, source, caption)
}

// Retry re-runs a failed send under its original correlation key.
func (s *Session) Retry(key string) error {
	ob, err := s.outboxRef()
	if err != nil {
		return err
	}
	return ob.Retry(key)
}

// Cancel aborts an in-flight send, leaving no local trace.
func (s *Session) Cancel(key string) error {
	ob, err := s.outboxRef()
	if err != nil {
		return err
	}
	return ob.Cancel(key)
}

// Flush blocks until the ordering queue has drained. For tests and
// shutdown.
func (s *Session) Flush() {
	s.mu.Lock()
	b := s.cur
	s.mu.Unlock()
	if b != nil {
		b.queue.Wait()
	}
}

func (s *Session) outboxRef() (*outbox.Outbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil, ErrNoThread
	}
	return s.cur.outbox, nil
}

// enrich fills in the sender display identity when the event does not
// carry one. Failures fall back to the default identity; the event still
// applies.
func (s *Session) enrich(ctx context.Context, ev *models.RemoteEvent) error {
	if ev.SenderName != "" || s.resolver == nil {
		return nil
	}
	p, err := s.resolver.Resolve(ctx, ev.SenderID)
	if err != nil {
		fb := profile.Fallback(ev.SenderID)
		ev.SenderName = fb.Name
		ev.SenderAvatar = fb.Avatar
		return err
	}
	ev.SenderName = p.Name
	ev.SenderAvatar = p.Avatar
	return nil
}
