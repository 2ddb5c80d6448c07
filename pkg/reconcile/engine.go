// Package reconcile decides what a remote event means for the local view:
// the confirmation of a pending placeholder, a redelivery, or a genuinely
// new message. Historical backlog and live updates take the same path.
package reconcile

import (
	"chatview/pkg/cache"
	"chatview/pkg/logger"
	"chatview/pkg/metrics"
	"chatview/pkg/models"
)

// Engine applies remote events to one thread's cache, pending table and
// dedup ledger. It does not synchronize; the owning session serializes
// calls, and events arrive here only through the ordering queue.
type Engine struct {
	Cache   *cache.Thread
	Pending *cache.Pending
	Ledger  *cache.Ledger
}

// New returns an Engine over the given thread structures.
func New(c *cache.Thread, p *cache.Pending, l *cache.Ledger) *Engine {
	return &Engine{Cache: c, Pending: p, Ledger: l}
}

// Apply runs the decision procedure for one enriched remote event.
//
// The pending-placeholder match is checked before cache membership on
// purpose: under the client-chosen-key strategy the placeholder's local id
// equals the eventual remote id, and treating the echo as "already cached"
// would leave the placeholder stuck in sending/uploading forever.
func (e *Engine) Apply(ev *models.RemoteEvent) {
	// Redelivery fast path.
	if e.Ledger.Seen(ev.ID) {
		metrics.ReconcileTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		logger.Debug("event_duplicate", "event", ev.ID)
		return
	}

	// Confirmation of a pending placeholder.
	if m := e.Pending.Get(ev.MatchKey()); m != nil {
		e.merge(m, ev)
		e.Pending.Remove(ev.MatchKey())
		e.Ledger.Record(ev.ID)
		metrics.ReconcileTotal.WithLabelValues(metrics.OutcomeMerged).Inc()
		logger.Debug("event_merged", "event", ev.ID, "key", ev.MatchKey())
		return
	}

	// Already applied before this ledger existed, e.g. a reload replay.
	if e.Cache.Has(ev.ID) {
		e.Ledger.Record(ev.ID)
		metrics.ReconcileTotal.WithLabelValues(metrics.OutcomeReplayed).Inc()
		logger.Debug("event_replayed", "event", ev.ID)
		return
	}

	// Genuinely new: another sender, or history on first load.
	e.Cache.Upsert(&models.Message{
		ID:             ev.ID,
		CorrelationKey: ev.CorrelationKey,
		Thread:         ev.Thread,
		SenderID:       ev.SenderID,
		SenderName:     ev.SenderName,
		SenderAvatar:   ev.SenderAvatar,
		CreatedAt:      ev.CreatedAt,
		Payload:        ev.Payload,
		Status:         models.StatusDelivered,
	})
	e.Ledger.Record(ev.ID)
	metrics.ReconcileTotal.WithLabelValues(metrics.OutcomeNew).Inc()
}

// merge copies remote-authoritative fields onto the placeholder in place
// and moves it to delivered. The remote CreatedAt wins over the locally
// chosen send time so every device renders the same order. If the remote
// assigned a different id, the cache entry is re-keyed atomically with the
// re-sort, never leaving a transient duplicate.
func (e *Engine) merge(m *models.Message, ev *models.RemoteEvent) {
	oldID := m.ID
	inCache := e.Cache.Has(oldID)
	if inCache && oldID != ev.ID {
		e.Cache.Rekey(oldID, ev.ID)
	}
	m.ID = ev.ID
	m.CorrelationKey = ev.MatchKey()
	m.CreatedAt = ev.CreatedAt
	m.Payload = ev.Payload
	if ev.SenderName != "" {
		m.SenderName = ev.SenderName
	}
	if ev.SenderAvatar != "" {
		m.SenderAvatar = ev.SenderAvatar
	}
	m.Status = models.StatusDelivered
	m.Progress = 0
	// Upsert re-sorts when the authoritative timestamp moved the entry, and
	// inserts it when the placeholder was never cached.
	e.Cache.Upsert(m)
}
