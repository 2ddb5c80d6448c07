package remotelog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"chatview/pkg/ident"
	"chatview/pkg/logger"
	"chatview/pkg/models"
)

// Pebble is an embedded append-only log. Keys are
// thread:<kind>/<id>:msg:<correlationKey>; correlation keys encode their
// mint time, so prefix iteration returns messages in send order.
type Pebble struct {
	db *pebble.DB

	mu        sync.Mutex
	listeners map[string]map[uuid.UUID]EventFunc // thread ref -> handle -> fn
	closed    bool
}

// OpenPebble opens (or creates) the log at path.
func OpenPebble(path string) (*Pebble, error) {
	logger.Info("opening_pebble_log", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Pebble{db: db, listeners: make(map[string]map[uuid.UUID]EventFunc)}, nil
}

// Close closes the underlying database. Outstanding subscriptions become
// inert.
func (p *Pebble) Close() error {
	p.mu.Lock()
	p.closed = true
	p.listeners = make(map[string]map[uuid.UUID]EventFunc)
	p.mu.Unlock()
	return p.db.Close()
}

func msgKey(thread models.ThreadRef, key string) []byte {
	return []byte("thread:" + thread.String() + ":msg:" + key)
}

func msgPrefix(thread models.ThreadRef) []byte {
	return []byte("thread:" + thread.String() + ":msg:")
}

// Append stores ev under the client-chosen key and fans it out to live
// subscribers of the thread.
func (p *Pebble) Append(_ context.Context, thread models.ThreadRef, key string, ev models.RemoteEvent) error {
	if key == "" {
		return fmt.Errorf("empty storage key")
	}
	ev.ID = key
	ev.CorrelationKey = key
	ev.Thread = thread
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("log closed")
	}
	if err := p.db.Set(msgKey(thread, key), data, pebble.Sync); err != nil {
		logger.Error("append_failed", "thread", thread.String(), "key", key, "error", err)
		return err
	}
	logger.Debug("event_appended", "thread", thread.String(), "key", key)
	for _, fn := range p.listeners[thread.String()] {
		fn(ev)
	}
	return nil
}

type pebbleSub struct {
	p      *Pebble
	thread string
	handle uuid.UUID
	once   sync.Once
}

func (s *pebbleSub) Unsubscribe() {
	s.once.Do(func() {
		s.p.mu.Lock()
		if m := s.p.listeners[s.thread]; m != nil {
			delete(m, s.handle)
			if len(m) == 0 {
				delete(s.p.listeners, s.thread)
			}
		}
		s.p.mu.Unlock()
	})
}

// Subscribe replays the stored backlog through fn and then attaches fn as
// a live listener. The two phases happen under the log lock, so no append
// is lost or delivered twice across the replay boundary; redelivery can
// still occur after a resubscribe, which the engine's ledger absorbs.
func (p *Pebble) Subscribe(_ context.Context, thread models.ThreadRef, fn EventFunc) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("log closed")
	}

	prefix := msgPrefix(thread)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append(append([]byte{}, prefix...), 0xff),
	})
	if err != nil {
		return nil, err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		var ev models.RemoteEvent
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			logger.Warn("backlog_decode_failed", "key", string(iter.Key()), "error", err)
			continue
		}
		fn(ev)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	handle := uuid.New()
	m := p.listeners[thread.String()]
	if m == nil {
		m = make(map[uuid.UUID]EventFunc)
		p.listeners[thread.String()] = m
	}
	m[handle] = fn
	logger.Info("subscribed", "thread", thread.String(), "handle", handle.String())
	return &pebbleSub{p: p, thread: thread.String(), handle: handle}, nil
}

// PruneBefore deletes stored events whose correlation keys were minted
// before cutoff (epoch ms), across all threads. Safe because the embedded
// log is a replica of the durable remote. Returns the number of deleted
// entries.
func (p *Pebble) PruneBefore(cutoff int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, fmt.Errorf("log closed")
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("thread:"),
		UpperBound: []byte("thread;"), // ';' = ':'+1
	})
	if err != nil {
		return 0, err
	}
	batch := p.db.NewBatch()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		i := len(k) - ident.KeyLen
		if i < 0 {
			continue
		}
		ts, err := ident.Timestamp(k[i:])
		if err != nil {
			continue
		}
		if ts < cutoff {
			_ = batch.Delete(append([]byte{}, iter.Key()...), nil)
			n++
		}
	}
	if err := iter.Close(); err != nil {
		_ = batch.Close()
		return 0, err
	}
	if n > 0 {
		if err := batch.Commit(pebble.Sync); err != nil {
			return 0, err
		}
	} else {
		_ = batch.Close()
	}
	return n, nil
}
