// Package ident generates chronologically sortable, collision-resistant
// correlation keys. A key is 8 alphabet symbols encoding the epoch-ms
// timestamp followed by 12 random symbols. Keys minted in the same
// millisecond reuse the previous suffix incremented by one, so they stay
// strictly increasing without a shared counter across processes.
package ident

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// alphabet is 64 symbols in ASCII order, so lexicographic order of keys
// matches numeric order of the values they encode. All symbols are safe to
// use as storage keys in the remote log.
const alphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const (
	prefixLen = 8
	suffixLen = 12
	// KeyLen is the fixed length of every generated key.
	KeyLen = prefixLen + suffixLen
)

// Timestamp decodes the epoch-ms timestamp encoded in a key's prefix.
func Timestamp(key string) (int64, error) {
	if len(key) < prefixLen {
		return 0, fmt.Errorf("key too short: %q", key)
	}
	var ms int64
	for i := 0; i < prefixLen; i++ {
		n := strings.IndexByte(alphabet, key[i])
		if n < 0 {
			return 0, fmt.Errorf("invalid key symbol %q", key[i])
		}
		ms = ms*64 + int64(n)
	}
	return ms, nil
}

// Generator mints correlation keys. The zero value is not usable; call New.
type Generator struct {
	mu     sync.Mutex
	now    func() int64 // epoch ms, swappable for tests
	rand   *rand.Rand
	lastMs int64
	suffix [suffixLen]int
}

// New returns a Generator seeded from the current time.
func New() *Generator {
	return &Generator{
		now:  func() int64 { return time.Now().UnixMilli() },
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewWithClock returns a Generator using the given clock, for tests.
func NewWithClock(now func() int64) *Generator {
	g := New()
	g.now = now
	return g
}

// Next returns a new key. Safe for concurrent use; keys from one Generator
// are strictly increasing even within a single millisecond.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	if ms == g.lastMs {
		// Same millisecond: increment the previous suffix as a base-64
		// integer, carrying as needed, instead of redrawing it.
		for i := suffixLen - 1; i >= 0; i-- {
			g.suffix[i]++
			if g.suffix[i] < 64 {
				break
			}
			g.suffix[i] = 0
		}
	} else {
		g.lastMs = ms
		for i := range g.suffix {
			g.suffix[i] = g.rand.Intn(64)
		}
	}

	var buf [KeyLen]byte
	v := ms
	for i := prefixLen - 1; i >= 0; i-- {
		buf[i] = alphabet[v%64]
		v /= 64
	}
	for i, s := range g.suffix {
		buf[prefixLen+i] = alphabet[s]
	}
	return string(buf[:])
}
