// Package profile resolves sender identities used to enrich incoming
// events. Resolution is best-effort: a failed lookup falls back to a
// default display identity and the message proceeds.
package profile

import (
	"context"
	"fmt"
	"sync"

	"chatview/pkg/models"
)

// Resolver looks up the display identity for a sender id.
type Resolver interface {
	Resolve(ctx context.Context, senderID string) (models.Profile, error)
}

// Fallback returns the default display identity used when resolution fails.
func Fallback(senderID string) models.Profile {
	return models.Profile{ID: senderID, Name: senderID}
}

// Static resolves from a fixed map, typically seeded from config.
type Static struct {
	mu sync.RWMutex
	m  map[string]models.Profile
}

// NewStatic returns a Static resolver over the given profiles.
func NewStatic(profiles []models.Profile) *Static {
	s := &Static{m: make(map[string]models.Profile, len(profiles))}
	for _, p := range profiles {
		s.m[p.ID] = p
	}
	return s
}

// Put adds or replaces a profile.
func (s *Static) Put(p models.Profile) {
	s.mu.Lock()
	s.m[p.ID] = p
	s.mu.Unlock()
}

// Resolve returns the stored profile or an error when unknown.
func (s *Static) Resolve(_ context.Context, senderID string) (models.Profile, error) {
	s.mu.RLock()
	p, ok := s.m[senderID]
	s.mu.RUnlock()
	if !ok {
		return models.Profile{}, fmt.Errorf("unknown sender %q", senderID)
	}
	return p, nil
}

// Cached memoizes successful lookups from an inner resolver. Failures are
// not cached, so a transient directory outage heals itself.
type Cached struct {
	inner Resolver

	mu sync.RWMutex
	m  map[string]models.Profile
}

// NewCached wraps inner with a memoizing cache.
func NewCached(inner Resolver) *Cached {
	return &Cached{inner: inner, m: make(map[string]models.Profile)}
}

// Resolve returns the cached profile or consults the inner resolver.
func (c *Cached) Resolve(ctx context.Context, senderID string) (models.Profile, error) {
	c.mu.RLock()
	p, ok := c.m[senderID]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}
	p, err := c.inner.Resolve(ctx, senderID)
	if err != nil {
		return models.Profile{}, err
	}
	c.mu.Lock()
	c.m[senderID] = p
	c.mu.Unlock()
	return p, nil
}
