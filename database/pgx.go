package database

import (
	"context"

	"github.com/cockroachdb/cockroach-go/v2/crdb"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"go.elastic.co/apm/module/apmpgx/v2"

	"github.com/quantumauth-io/quantumauth-go/retry"
)

// CockroachPGXDatabase runs statements on a pgx pool. Each call acquires its own
// connection and is retried with crdb.Execute plus the package retry policy.
type CockroachPGXDatabase struct {
	pool     *pgxpool.Pool
	settings Settings
}

var _ Database = (*CockroachPGXDatabase)(nil)

type pgxTransaction struct {
	tx pgx.Tx
}

type pgxExecResult struct {
	tag pgconn.CommandTag
}

func (r pgxExecResult) RowsAffected() (int64, error) {
	return r.tag.RowsAffected(), nil
}

type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Close() error                   { r.rows.Close(); return nil }
func (r *pgxRows) Err() error                     { return r.rows.Err() }
func (r *pgxRows) Next() bool                     { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...interface{}) error { return r.rows.Scan(dest...) }

func NewCockroachPGXDatabase(ctx context.Context, settings Settings) (*CockroachPGXDatabase, error) {
	connStr, err := getConnectionString(settings)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(databaseDriverType + "://" + connStr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid pgx connection settings")
	}
	configurePGXPool(poolCfg, settings)
	apmpgx.Instrument(poolCfg.ConnConfig)

	pool, err := retry.Do(ctx, retryConfig(), func(ctx context.Context) (*pgxpool.Pool, error) {
		p, err := pgxpool.ConnectConfig(ctx, poolCfg)
		return p, errors.Wrap(err, "error opening the database")
	}, nil, "Database Connection")
	if err != nil {
		return nil, errors.Wrap(err, "Failed to instantiate db after retries")
	}
	return &CockroachPGXDatabase{pool: pool, settings: settings}, nil
}

func (db *CockroachPGXDatabase) MigrateWithIOFS(ctx context.Context, src source.Driver) error {
	return migrateWithIOFS(ctx, src, db.settings)
}

func (db *CockroachPGXDatabase) Settings() Settings {
	return db.settings
}

func (db *CockroachPGXDatabase) Exec(ctx context.Context, sql string, arguments ...interface{}) (ExecResult, error) {
	res, err := retry.Do(ctx, retryConfig(), func(ctx context.Context) (ExecResult, error) {
		var tag pgconn.CommandTag
		err := crdb.Execute(func() (err error) {
			tag, err = db.pool.Exec(ctx, sql, arguments...)
			return err
		})
		if err != nil {
			return nil, err
		}
		return pgxExecResult{tag}, nil
	}, isRetryable, "Database Exec")
	return res, errors.Wrapf(err, "Failed to execute %s", sql)
}

func (db *CockroachPGXDatabase) QueryRow(ctx context.Context, sql string, arguments ...interface{}) (Row, error) {
	// pgx defers errors to Scan
	return db.pool.QueryRow(ctx, sql, arguments...), nil
}

func (db *CockroachPGXDatabase) Query(ctx context.Context, sql string, arguments ...interface{}) (Rows, error) {
	res, err := retry.Do(ctx, retryConfig(), func(ctx context.Context) (Rows, error) {
		var rows pgx.Rows
		err := crdb.Execute(func() (err error) {
			rows, err = db.pool.Query(ctx, sql, arguments...)
			return err
		})
		if err != nil {
			return nil, err
		}
		return &pgxRows{rows}, nil
	}, isRetryable, "Database Query")
	return res, errors.Wrapf(err, "Failed to query %s", sql)
}

func (db *CockroachPGXDatabase) GetTransaction(ctx context.Context) (Transaction, error) {
	opts := pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	}
	tx, err := retry.Do(ctx, retryConfig(), func(ctx context.Context) (pgx.Tx, error) {
		return db.pool.BeginTx(ctx, opts)
	}, nil, "Get DB Transaction")
	if err != nil {
		return nil, errors.Wrap(err, "Failed to begin transaction after retries")
	}
	return &pgxTransaction{tx}, nil
}

func (t *pgxTransaction) Exec(ctx context.Context, sql string, arguments ...interface{}) (ExecResult, error) {
	tag, err := t.tx.Exec(ctx, sql, arguments...)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to execute %s in transaction", sql)
	}
	return pgxExecResult{tag}, nil
}

func (t *pgxTransaction) Commit(ctx context.Context) error {
	return errors.Wrap(t.tx.Commit(ctx), "Failed to commit db transaction")
}

func (t *pgxTransaction) Rollback(ctx context.Context) error {
	return errors.Wrap(t.tx.Rollback(ctx), "Failed to rollback db transaction")
}

func (db *CockroachPGXDatabase) Ping(ctx context.Context) error {
	return pingDB(ctx, db.pool.Ping)
}

func (db *CockroachPGXDatabase) Close() error {
	db.pool.Close()
	return nil
}
