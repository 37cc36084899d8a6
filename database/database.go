// Package database connects to Postgres or CockroachDB through pgx or database/sql, with
// retries around every statement. It stores the middleware audit trail.
package database

import (
	"context"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/pkg/errors"
)

const (
	DriverPGX = "pgx"
	DriverSQL = "sql"

	// UniqueConstraintViolationCode is the SQLSTATE for unique_violation.
	UniqueConstraintViolationCode = "23505"
)

type Settings struct {
	Enabled               bool
	Driver                string // pgx (default) or sql
	Host                  string
	Port                  string
	User                  string
	Password              string
	Database              string
	SSLModeDisable        bool
	CertPath              string
	ConnectionMaxLifetime time.Duration
	ConnectionMaxIdleTime time.Duration
	MaxIdleConnections    uint
	MaxPoolSize           uint // pgx
	MinPoolSize           uint // pgx
	PoolSize              uint // sql
}

type Row interface {
	Scan(dest ...interface{}) error
}

type Rows interface {
	Row
	Next() bool
	Err() error
	Close() error
}

type ExecResult interface {
	RowsAffected() (int64, error)
}

type Transaction interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (ExecResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Database interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (ExecResult, error)
	QueryRow(ctx context.Context, sql string, arguments ...interface{}) (Row, error)
	Query(ctx context.Context, sql string, arguments ...interface{}) (Rows, error)
	GetTransaction(ctx context.Context) (Transaction, error)
	MigrateWithIOFS(ctx context.Context, source source.Driver) error
	Ping(ctx context.Context) error
	Close() error
}

// Open connects with the driver named in settings.
func Open(ctx context.Context, settings Settings) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Driver)) {
	case "", DriverPGX:
		db, err := NewCockroachPGXDatabase(ctx, settings)
		if err != nil {
			return nil, err
		}
		return db, nil
	case DriverSQL:
		db, err := NewCockroachSQLDatabase(ctx, settings)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, errors.Errorf("unknown database driver %q", settings.Driver)
	}
}
