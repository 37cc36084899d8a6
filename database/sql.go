package database

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/cockroach-go/v2/crdb"
	_ "github.com/golang-migrate/migrate/v4/database/cockroachdb"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/pkg/errors"
	"go.elastic.co/apm/module/apmsql/v2"
	_ "go.elastic.co/apm/module/apmsql/v2/pq"

	"github.com/quantumauth-io/quantumauth-go/retry"
)

// CockroachSQLDatabase runs statements through database/sql with the APM-wrapped lib/pq driver.
type CockroachSQLDatabase struct {
	db       *sql.DB
	settings Settings
}

var _ Database = (*CockroachSQLDatabase)(nil)

type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Close() error                   { return r.rows.Close() }
func (r *sqlRows) Err() error                     { return r.rows.Err() }
func (r *sqlRows) Next() bool                     { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...interface{}) error { return r.rows.Scan(dest...) }

type sqlTransaction struct {
	tx *sql.Tx
}

func NewCockroachSQLDatabase(ctx context.Context, settings Settings) (*CockroachSQLDatabase, error) {
	connStr, err := getConnectionString(settings)
	if err != nil {
		return nil, err
	}
	db, err := apmsql.Open("postgres", "postgres://"+connStr)
	if err != nil {
		return nil, errors.Wrap(err, "error opening the database")
	}
	configureSQLPool(db, settings)

	_, err = retry.Do(ctx, retryConfig(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	}, nil, "Database Connection")
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "Failed to instantiate db after retries")
	}
	return &CockroachSQLDatabase{db: db, settings: settings}, nil
}

func (d *CockroachSQLDatabase) MigrateWithIOFS(ctx context.Context, src source.Driver) error {
	return migrateWithIOFS(ctx, src, d.settings)
}

func (d *CockroachSQLDatabase) Exec(ctx context.Context, query string, arguments ...interface{}) (ExecResult, error) {
	res, err := retry.Do(ctx, retryConfig(), func(ctx context.Context) (ExecResult, error) {
		return d.db.ExecContext(ctx, query, arguments...)
	}, isRetryable, "Database Exec")
	return res, errors.Wrapf(err, "Failed to execute %s", query)
}

func (d *CockroachSQLDatabase) QueryRow(ctx context.Context, query string, arguments ...interface{}) (Row, error) {
	return d.db.QueryRowContext(ctx, query, arguments...), nil
}

func (d *CockroachSQLDatabase) Query(ctx context.Context, query string, arguments ...interface{}) (Rows, error) {
	rows, err := retry.Do(ctx, retryConfig(), func(ctx context.Context) (*sql.Rows, error) {
		return d.db.QueryContext(ctx, query, arguments...)
	}, isRetryable, "Database Query")
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to query %s", query)
	}
	return &sqlRows{rows}, nil
}

func (d *CockroachSQLDatabase) GetTransaction(ctx context.Context) (Transaction, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, errors.Wrap(err, "Failed to begin db transaction")
	}
	return &sqlTransaction{tx}, nil
}

// RunInTx runs fn in a transaction that crdb restarts on serialization failures.
func (d *CockroachSQLDatabase) RunInTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return crdb.ExecuteTx(ctx, d.db, nil, fn)
}

func (t *sqlTransaction) Exec(ctx context.Context, query string, arguments ...interface{}) (ExecResult, error) {
	return t.tx.ExecContext(ctx, query, arguments...)
}

func (t *sqlTransaction) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *sqlTransaction) Rollback(context.Context) error {
	return t.tx.Rollback()
}

func (d *CockroachSQLDatabase) Ping(ctx context.Context) error {
	return pingDB(ctx, d.db.PingContext)
}

func (d *CockroachSQLDatabase) Close() error {
	return d.db.Close()
}
