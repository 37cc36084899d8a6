// Package replay enforces single use of QuantumAuth challenge IDs.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxEntries  = 100_000
	MaxChallengeIDLen  = 512
	defaultSweepPeriod = 30 * time.Second
)

var (
	ErrInvalidID = errors.New("replay: invalid challenge id")
	ErrFull      = errors.New("replay: guard is full")
)

// Guard records challenge IDs. Claim reports fresh=false when id was already claimed within the TTL.
type Guard interface {
	Claim(ctx context.Context, id string) (fresh bool, err error)
}

func validate(id string) error {
	if id == "" || len(id) > MaxChallengeIDLen {
		return ErrInvalidID
	}
	return nil
}

// MemoryGuard keeps claimed IDs in process memory. Expired entries are swept lazily.
type MemoryGuard struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	nextSweep time.Time
}

type MemoryOption func(*MemoryGuard)

func WithMaxEntries(n int) MemoryOption {
	return func(g *MemoryGuard) {
		if n > 0 {
			g.maxEntries = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(g *MemoryGuard) {
		if now != nil {
			g.now = now
		}
	}
}

func NewMemoryGuard(ttl time.Duration, opts ...MemoryOption) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g := &MemoryGuard{
		ttl:        ttl,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		seen:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *MemoryGuard) Claim(_ context.Context, id string) (bool, error) {
	if err := validate(id); err != nil {
		return false, err
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if now.After(g.nextSweep) || len(g.seen) >= g.maxEntries {
		g.sweep(now)
	}
	if expires, ok := g.seen[id]; ok && now.Before(expires) {
		return false, nil
	}
	if len(g.seen) >= g.maxEntries {
		return false, ErrFull
	}
	g.seen[id] = now.Add(g.ttl)
	return true, nil
}

// Len returns the number of tracked IDs, expired ones included until the next sweep.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *MemoryGuard) sweep(now time.Time) {
	for id, expires := range g.seen {
		if !now.Before(expires) {
			delete(g.seen, id)
		}
	}
	g.nextSweep = now.Add(min(g.ttl, defaultSweepPeriod))
}
