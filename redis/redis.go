package redis

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/quantumauth-io/quantumauth-go/retry"
)

const defaultPingRetries = 3

type Config struct {
	Enabled      bool
	Host         string        // default "localhost"
	Port         string        // default "6379"
	Username     string        // optional
	Password     string        // optional
	DB           int           // default 0
	TLS          bool          // enable TLS
	DialTimeout  time.Duration // default 5s
	ReadTimeout  time.Duration // default 3s
	WriteTimeout time.Duration // default 3s
	PingRetries  int32         // default 3
}

func (cfg Config) withDefaults() Config {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.PingRetries == 0 {
		cfg.PingRetries = defaultPingRetries
	}
	return cfg
}

// Addr returns host:port after defaults are applied.
func (cfg Config) Addr() string {
	cfg = cfg.withDefaults()
	return net.JoinHostPort(cfg.Host, cfg.Port)
}

// NewClient creates a Redis client and pings it, retrying a few times before giving up.
// The client backs the shared challenge replay guard.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	cfg = cfg.withDefaults()

	opts := &redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	_, err := retry.Do(ctx, retry.Bounded(cfg.PingRetries), func(ctx context.Context) (string, error) {
		return rdb.Ping(ctx).Result()
	}, nil, "Redis ping "+opts.Addr)
	if err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis unavailable")
	}

	return rdb, nil
}
