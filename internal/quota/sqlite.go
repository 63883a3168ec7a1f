package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/playintel/market-analyst/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS quota_records (
	user_id    TEXT PRIMARY KEY,
	plan       TEXT NOT NULL DEFAULT '',
	used       INTEGER NOT NULL DEFAULT 0,
	reset_at   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore persists records in a local SQLite file. Transactions begin
// IMMEDIATE so the read-check-write in Reserve holds the write lock.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates) the quota database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("quota: sqlite path is required")
	}
	dsn := "file:" + strings.TrimPrefix(path, "file:")
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open quota database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate quota database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// withRecord loads (or initializes) the user's record inside a write
// transaction, applies rollover, runs fn and persists the result.
func (s *SQLiteStore) withRecord(ctx context.Context, userID, plan string, now time.Time, fn func(rec *model.QuotaRecord) bool) (model.QuotaRecord, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.QuotaRecord{}, false, err
	}
	defer tx.Rollback()

	rec := model.QuotaRecord{UserID: userID, Plan: plan}
	var resetMs, updatedMs int64
	var storedPlan string
	err = tx.QueryRowContext(ctx,
		`SELECT plan, used, reset_at, updated_at FROM quota_records WHERE user_id = ?`, userID,
	).Scan(&storedPlan, &rec.Used, &resetMs, &updatedMs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return model.QuotaRecord{}, false, err
	default:
		rec.ResetAt = time.UnixMilli(resetMs).UTC()
		rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
		if plan == "" {
			rec.Plan = storedPlan
		}
	}

	rollover(&rec, now)
	ok := fn(&rec)
	rec.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO quota_records (user_id, plan, used, reset_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = excluded.plan, used = excluded.used,
			reset_at = excluded.reset_at, updated_at = excluded.updated_at`,
		rec.UserID, rec.Plan, rec.Used, rec.ResetAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return model.QuotaRecord{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return model.QuotaRecord{}, false, err
	}
	return rec, ok, nil
}

// Reserve consumes one unit if the user is under limit.
func (s *SQLiteStore) Reserve(ctx context.Context, userID, plan string, limit int, now time.Time) (model.QuotaRecord, bool, error) {
	return s.withRecord(ctx, userID, plan, now, func(rec *model.QuotaRecord) bool {
		return admit(rec, limit)
	})
}

// Release returns one unit in the current period.
func (s *SQLiteStore) Release(ctx context.Context, userID string, now time.Time) (model.QuotaRecord, error) {
	rec, _, err := s.withRecord(ctx, userID, "", now, func(rec *model.QuotaRecord) bool {
		if rec.Used > 0 {
			rec.Used--
		}
		return true
	})
	return rec, err
}

// Get returns the current record.
func (s *SQLiteStore) Get(ctx context.Context, userID, plan string, now time.Time) (model.QuotaRecord, error) {
	rec := model.QuotaRecord{UserID: userID, Plan: plan}
	var resetMs, updatedMs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT used, reset_at, updated_at FROM quota_records WHERE user_id = ?`, userID,
	).Scan(&rec.Used, &resetMs, &updatedMs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec.ResetAt = NextReset(now)
		rec.UpdatedAt = now
		return rec, nil
	case err != nil:
		return model.QuotaRecord{}, err
	}
	rec.ResetAt = time.UnixMilli(resetMs).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	rollover(&rec, now)
	return rec, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
