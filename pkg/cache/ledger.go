package cache

// Ledger is the per-thread set of remote ids already applied, guarding
// against at-least-once redelivery. It is a liveness optimization, not
// durable state: it is created on thread open and discarded on close, the
// remote log being the durable source.
type Ledger struct {
	seen map[string]struct{}
}

// NewLedger returns an empty dedup ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// Seen reports whether the remote id was already applied.
func (l *Ledger) Seen(id string) bool {
	_, ok := l.seen[id]
	return ok
}

// Record marks the remote id as applied.
func (l *Ledger) Record(id string) {
	l.seen[id] = struct{}{}
}

// Len returns the number of recorded ids.
func (l *Ledger) Len() int { return len(l.seen) }
