package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantumauth-go/retry"
)

const (
	databaseDriverType = "postgresql"

	defaultMaxRetry = 6

	defaultMinDBPoolSize = 1
	defaultMaxDBPoolSize = 8

	defaultConnectionMaxLifetime = 2 * time.Minute
	defaultConnectionMaxIdleTime = 30 * time.Second

	defaultDBPoolSize   = 5
	defaultIdlePoolSize = defaultDBPoolSize

	pingTimeout = 60 * time.Second
)

func retryConfig() *retry.Config {
	return retry.Bounded(defaultMaxRetry)
}

func migrateWithIOFS(ctx context.Context, src source.Driver, settings Settings) error {
	connectionString, err := getConnectionString(settings)
	if err != nil {
		return errors.Wrap(err, "Failed to create connection string")
	}

	_, err = retry.Do(ctx, retryConfig(), func(context.Context) (struct{}, error) {
		m, err := migrate.NewWithSourceInstance("iofs", src, "postgres://"+connectionString)
		if err != nil {
			return struct{}{}, errors.Wrap(err, "Failed to initialize migrations")
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return struct{}{}, errors.Wrap(err, "error migrating database schema")
		}
		return struct{}{}, nil
	}, nil, "Database Migration")
	return err
}

// getConnectionString renders user:password@host:port/database plus the sslmode query.
func getConnectionString(settings Settings) (string, error) {
	auth := url.UserPassword(settings.User, settings.Password).String()
	connString := fmt.Sprintf("%s@%s/%s", auth, net.JoinHostPort(settings.Host, settings.Port), settings.Database)

	if settings.SSLModeDisable {
		return connString + "?sslmode=disable", nil
	}
	// encryption is required; verify-ca only when a CA bundle is supplied
	if settings.CertPath == "" {
		return connString + "?sslmode=require", nil
	}
	if _, err := os.Stat(settings.CertPath); errors.Is(err, os.ErrNotExist) {
		return "", errors.New("ssl mode was enabled but cert file not found")
	} else if err != nil {
		return "", err
	}
	return connString + "?sslmode=verify-ca&sslrootcert=" + url.QueryEscape(settings.CertPath), nil
}

func pingDB(ctx context.Context, pingFn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	cfg := retry.DefaultConfig()
	cfg.MaxDelayBeforeRetrying = time.Second
	_, err := retry.Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, pingFn(ctx)
	}, nil, "Database Ping")
	if err != nil {
		return errors.Wrap(err, "failed to ping database")
	}
	return nil
}

type poolLimits struct {
	minConns, maxConns   uint
	maxLifetime, maxIdle time.Duration
	poolSize, idleConns  uint
}

func limitsFor(settings Settings) poolLimits {
	l := poolLimits{
		minConns:    settings.MinPoolSize,
		maxConns:    settings.MaxPoolSize,
		maxLifetime: settings.ConnectionMaxLifetime,
		maxIdle:     settings.ConnectionMaxIdleTime,
		poolSize:    settings.PoolSize,
		idleConns:   settings.MaxIdleConnections,
	}
	if l.minConns == 0 {
		l.minConns = defaultMinDBPoolSize
	}
	if l.maxConns == 0 {
		l.maxConns = defaultMaxDBPoolSize
	}
	if l.maxLifetime == 0 {
		l.maxLifetime = defaultConnectionMaxLifetime
	}
	if l.maxIdle == 0 {
		l.maxIdle = defaultConnectionMaxIdleTime
	}
	if l.poolSize == 0 {
		l.poolSize = defaultDBPoolSize
	}
	if l.idleConns == 0 {
		l.idleConns = defaultIdlePoolSize
	}
	return l
}

func configurePGXPool(cfg *pgxpool.Config, settings Settings) {
	l := limitsFor(settings)
	cfg.MinConns = int32(l.minConns)
	cfg.MaxConns = int32(l.maxConns)
	cfg.MaxConnLifetime = l.maxLifetime
	cfg.MaxConnIdleTime = l.maxIdle
	// drop dead connections early
	cfg.HealthCheckPeriod = 15 * time.Second
}

func configureSQLPool(db *sql.DB, settings Settings) {
	l := limitsFor(settings)
	db.SetMaxOpenConns(int(l.poolSize))
	db.SetMaxIdleConns(int(l.idleConns))
	db.SetConnMaxLifetime(l.maxLifetime)
	db.SetConnMaxIdleTime(l.maxIdle)
}

// isRetryable is shared by the SQL and PGX drivers.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == UniqueConstraintViolationCode {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == UniqueConstraintViolationCode {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		// the pool replaces the broken connection on the next attempt
		return true
	}
	// optimistic for Cockroach / transient DB errors
	return true
}
