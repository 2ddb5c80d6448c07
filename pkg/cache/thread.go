// Package cache holds the per-thread local view: the ordered message cache,
// the pending placeholder table and the dedup ledger. The three structures
// share message records by pointer and are discarded together when the
// thread is closed. None of them synchronize internally; the owning session
// serializes access.
package cache

import (
	"sort"

	"chatview/pkg/models"
)

// Thread is an ordered, deduplicated store of reconciled messages for one
// thread. Iteration order is non-decreasing CreatedAt, ties broken by
// arrival order. A parallel id set gives O(1) existence checks.
type Thread struct {
	msgs []*models.Message
	ids  map[string]struct{}
}

// NewThread returns an empty thread cache.
func NewThread() *Thread {
	return &Thread{ids: make(map[string]struct{})}
}

// Has reports whether a message with the given id is present.
func (t *Thread) Has(id string) bool {
	_, ok := t.ids[id]
	return ok
}

// Len returns the number of cached messages.
func (t *Thread) Len() int { return len(t.msgs) }

// All returns the messages in render order. The returned slice is a
// snapshot; the pointed-to records are the live ones.
func (t *Thread) All() []*models.Message {
	out := make([]*models.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Get returns the cached message with the given id, or nil.
func (t *Thread) Get(id string) *models.Message {
	if !t.Has(id) {
		return nil
	}
	for _, m := range t.msgs {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Upsert inserts m at its sorted position, or replaces the entry with the
// same id. A replacement keeps its position while the order invariant still
// holds there; when CreatedAt moved it out of place (a remote echo rewrote
// the timestamp, possibly mutating the shared record in place) the entry is
// removed and re-inserted at its sorted position.
func (t *Thread) Upsert(m *models.Message) {
	if i := t.index(m.ID); i >= 0 {
		t.msgs[i] = m
		if t.ordered(i) {
			return
		}
		t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
		delete(t.ids, m.ID)
	}
	at := sort.Search(len(t.msgs), func(i int) bool {
		return t.msgs[i].CreatedAt > m.CreatedAt
	})
	t.msgs = append(t.msgs, nil)
	copy(t.msgs[at+1:], t.msgs[at:])
	t.msgs[at] = m
	t.ids[m.ID] = struct{}{}
}

// Rekey renames a cached entry from oldID to newID in one step, updating
// the record and the id set together so there is no transient duplicate.
// No-op when oldID is absent or the ids are equal.
func (t *Thread) Rekey(oldID, newID string) {
	if oldID == newID {
		return
	}
	i := t.index(oldID)
	if i < 0 {
		return
	}
	t.msgs[i].ID = newID
	delete(t.ids, oldID)
	t.ids[newID] = struct{}{}
}

// Remove deletes the entry with the given id, if present. Used only for
// cancelled placeholders; confirmed messages are never removed.
func (t *Thread) Remove(id string) {
	i := t.index(id)
	if i < 0 {
		return
	}
	t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
	delete(t.ids, id)
}

// ordered reports whether the entry at i respects the CreatedAt invariant
// against both neighbors.
func (t *Thread) ordered(i int) bool {
	if i > 0 && t.msgs[i-1].CreatedAt > t.msgs[i].CreatedAt {
		return false
	}
	if i < len(t.msgs)-1 && t.msgs[i].CreatedAt > t.msgs[i+1].CreatedAt {
		return false
	}
	return true
}

func (t *Thread) index(id string) int {
	if _, ok := t.ids[id]; !ok {
		return -1
	}
	for i, m := range t.msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}
