package audit

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantumauth-go/database"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	insertRecord = `INSERT INTO qa_audit
	(id, occurred_at, outcome, status, method, path, user_id, device_id, challenge_id, error, duration_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	selectRecent = `SELECT id, occurred_at, outcome, status, method, path,
	COALESCE(user_id, ''), COALESCE(device_id, ''), COALESCE(challenge_id, ''), COALESCE(error, ''), duration_ms
	FROM qa_audit ORDER BY occurred_at DESC LIMIT $1`

	defaultRecentLimit = 50
)

// SQLRecorder persists records in the qa_audit table.
type SQLRecorder struct {
	db  database.Database
	now func() time.Time
}

func NewSQLRecorder(db database.Database) *SQLRecorder {
	return &SQLRecorder{db: db, now: time.Now}
}

// Migrate applies the embedded schema migrations.
func (r *SQLRecorder) Migrate(ctx context.Context) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "audit: load migrations")
	}
	return r.db.MigrateWithIOFS(ctx, src)
}

func (r *SQLRecorder) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = r.now()
	}
	_, err := r.db.Exec(ctx, insertRecord,
		rec.ID, rec.Time.UTC(), rec.Outcome, rec.Status, rec.Method, rec.Path,
		nullable(rec.UserID), nullable(rec.DeviceID), nullable(rec.ChallengeID), nullable(rec.Error),
		rec.Duration.Milliseconds())
	return errors.Wrap(err, "audit: insert record")
}

// Recent returns the newest records first.
func (r *SQLRecorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := r.db.Query(ctx, selectRecent, limit)
	if err != nil {
		return nil, errors.Wrap(err, "audit: query recent")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			durationMS int64
		)
		if err := rows.Scan(&rec.ID, &rec.Time, &rec.Outcome, &rec.Status, &rec.Method, &rec.Path,
			&rec.UserID, &rec.DeviceID, &rec.ChallengeID, &rec.Error, &durationMS); err != nil {
			return nil, errors.Wrap(err, "audit: scan record")
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "audit: iterate records")
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
