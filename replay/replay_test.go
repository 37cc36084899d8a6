package replay

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryGuardSingleUse(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := NewMemoryGuard(time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	fresh, err := g.Claim(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = g.Claim(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, fresh)

	clock.Advance(time.Minute)
	fresh, err = g.Claim(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, fresh, "expired ids may be claimed again")
}

func TestMemoryGuardSweepsAndCaps(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := NewMemoryGuard(time.Second, WithClock(clock.Now), WithMaxEntries(2))
	ctx := context.Background()

	_, _ = g.Claim(ctx, "a")
	_, _ = g.Claim(ctx, "b")
	_, err := g.Claim(ctx, "c")
	require.ErrorIs(t, err, ErrFull)

	clock.Advance(2 * time.Second)
	fresh, err := g.Claim(ctx, "c")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, 1, g.Len())
}

func TestMemoryGuardRejectsInvalidIDs(t *testing.T) {
	g := NewMemoryGuard(0)

	_, err := g.Claim(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidID)
	_, err = g.Claim(context.Background(), strings.Repeat("x", MaxChallengeIDLen+1))
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestMemoryGuardConcurrentClaimsHaveOneWinner(t *testing.T) {
	g := NewMemoryGuard(time.Minute)
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fresh, _ := g.Claim(context.Background(), "same"); fresh {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestRedisGuard(t *testing.T) {
	// given
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	g := NewRedisGuard(rdb, time.Minute)
	ctx := context.Background()

	// when
	first, err := g.Claim(ctx, "c1")
	require.NoError(t, err)
	second, err := g.Claim(ctx, "c1")
	require.NoError(t, err)

	// then
	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, mr.Exists("qa:challenge:c1"))
	assert.Equal(t, time.Minute, mr.TTL("qa:challenge:c1"))

	mr.FastForward(time.Minute + time.Second)
	again, err := g.Claim(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRedisGuardSharedAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	a := NewRedisGuard(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	b := NewRedisGuard(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)

	fresh, err := a.Claim(context.Background(), "shared")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = b.Claim(context.Background(), "shared")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestRedisGuardFallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()
	g := NewRedisGuard(rdb, time.Minute)
	mr.Close()

	fresh, err := g.Claim(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = g.Claim(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, 1, g.Fallback.Len())
}

func TestRedisGuardWithoutClient(t *testing.T) {
	g := NewRedisGuard(nil, 0)

	fresh, err := g.Claim(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, DefaultTTL, g.TTL)
}
