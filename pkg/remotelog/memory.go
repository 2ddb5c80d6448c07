package remotelog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"chatview/pkg/models"
)

// Memory is a map-backed log with the same semantics as the pebble log.
// It backs tests and ephemeral runs where nothing should touch disk.
type Memory struct {
	mu        sync.Mutex
	events    map[string]map[string]models.RemoteEvent // thread -> key -> event
	listeners map[string]map[uuid.UUID]EventFunc
}

// NewMemory returns an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{
		events:    make(map[string]map[string]models.RemoteEvent),
		listeners: make(map[string]map[uuid.UUID]EventFunc),
	}
}

// Append stores ev under the client-chosen key and fans out to live
// subscribers.
func (m *Memory) Append(_ context.Context, thread models.ThreadRef, key string, ev models.RemoteEvent) error {
	if key == "" {
		return fmt.Errorf("empty storage key")
	}
	ev.ID = key
	ev.CorrelationKey = key
	ev.Thread = thread

	m.mu.Lock()
	defer m.mu.Unlock()
	tm := m.events[thread.String()]
	if tm == nil {
		tm = make(map[string]models.RemoteEvent)
		m.events[thread.String()] = tm
	}
	tm[key] = ev
	for _, fn := range m.listeners[thread.String()] {
		fn(ev)
	}
	return nil
}

type memorySub struct {
	m      *Memory
	thread string
	handle uuid.UUID
	once   sync.Once
}

func (s *memorySub) Unsubscribe() {
	s.once.Do(func() {
		s.m.mu.Lock()
		if lm := s.m.listeners[s.thread]; lm != nil {
			delete(lm, s.handle)
		}
		s.m.mu.Unlock()
	})
}

// Subscribe replays the backlog in key order, then attaches fn live.
func (m *Memory) Subscribe(_ context.Context, thread models.ThreadRef, fn EventFunc) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.events[thread.String()]))
	for k := range m.events[thread.String()] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(m.events[thread.String()][k])
	}

	handle := uuid.New()
	lm := m.listeners[thread.String()]
	if lm == nil {
		lm = make(map[uuid.UUID]EventFunc)
		m.listeners[thread.String()] = lm
	}
	lm[handle] = fn
	return &memorySub{m: m, thread: thread.String(), handle: handle}, nil
}

// Len returns the number of stored events for a thread.
func (m *Memory) Len(thread models.ThreadRef) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[thread.String()])
}
