package cache

import "chatview/pkg/models"

// Pending tracks locally-originated messages awaiting remote confirmation,
// keyed by correlation key. Entries live from placeholder creation until
// reconciliation, cancellation or permanent abandonment.
type Pending struct {
	m map[string]*models.Message
}

// NewPending returns an empty placeholder table.
func NewPending() *Pending {
	return &Pending{m: make(map[string]*models.Message)}
}

// Register records a placeholder under its correlation key.
func (p *Pending) Register(key string, m *models.Message) {
	p.m[key] = m
}

// Get returns the placeholder for key, or nil.
func (p *Pending) Get(key string) *models.Message {
	return p.m[key]
}

// Remove drops the entry for key, if present.
func (p *Pending) Remove(key string) {
	delete(p.m, key)
}

// Len returns the number of outstanding placeholders.
func (p *Pending) Len() int { return len(p.m) }
