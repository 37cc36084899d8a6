package replay

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/log"
)

const (
	defaultPrefix       = "qa:challenge:"
	defaultRedisTimeout = 2 * time.Second
)

// RedisGuard shares claimed IDs between backend replicas with SET NX PX.
// When Redis fails it falls back to an in-process MemoryGuard.
type RedisGuard struct {
	Client   redis.Cmdable
	TTL      time.Duration
	Prefix   string
	Timeout  time.Duration
	Fallback *MemoryGuard

	logger *zap.Logger
}

func NewRedisGuard(client redis.Cmdable, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{
		Client:   client,
		TTL:      ttl,
		Prefix:   defaultPrefix,
		Timeout:  defaultRedisTimeout,
		Fallback: NewMemoryGuard(ttl),
		logger:   log.Named(nil, "replay"),
	}
}

func (g *RedisGuard) Claim(ctx context.Context, id string) (bool, error) {
	if err := validate(id); err != nil {
		return false, err
	}
	if g.Client == nil {
		return g.fallback(ctx, id, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	fresh, err := g.Client.SetNX(ctx, g.Prefix+id, 1, g.TTL).Result()
	if err != nil {
		return g.fallback(ctx, id, err)
	}
	return fresh, nil
}

func (g *RedisGuard) fallback(ctx context.Context, id string, cause error) (bool, error) {
	if cause != nil {
		g.logger.Warn("redis replay guard unavailable, using in-memory fallback", zap.Error(cause))
	}
	if g.Fallback == nil {
		g.Fallback = NewMemoryGuard(g.TTL)
	}
	return g.Fallback.Claim(ctx, id)
}
