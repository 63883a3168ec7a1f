package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/playintel/market-analyst/internal/model"
)

// SQLiteStore serves the analytic schema from a local SQLite file. The
// connection is opened read-only with query_only set, so writes fail inside
// the engine even if a statement slips past Guard.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

// NewSQLiteStore opens path read-only. path may be a bare file name or a
// file: URI.
func NewSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", readOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(int(opts.MaxConns))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return &SQLiteStore{db: db, opts: opts}, nil
}

func readOnlyDSN(path string) string {
	base := strings.TrimPrefix(path, "file:")
	query := ""
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base, query = base[:i], base[i+1:]
	}
	params, _ := url.ParseQuery(query)
	params.Set("mode", "ro")
	params.Add("_pragma", "query_only(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	return "file:" + base + "?" + params.Encode()
}

// Driver returns the dialect name.
func (s *SQLiteStore) Driver() string {
	return DriverSQLite
}

// Query runs a single statement and returns at most limit rows.
func (s *SQLiteStore) Query(ctx context.Context, query string, limit int) (*model.QueryResult, error) {
	if s.opts.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.StatementTimeout)
		defer cancel()
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, s.classify(ctx, err)
	}

	limit = clampLimit(limit)
	result := &model.QueryResult{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if result.RowCount == limit {
			result.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, s.classify(ctx, err)
		}
		for i := range vals {
			vals[i] = normalize(vals[i])
		}
		result.Rows = append(result.Rows, vals)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(ctx, err)
	}
	return result, nil
}

// classify separates statement failures, which drive repair, from
// infrastructure failures, which do not.
func (s *SQLiteStore) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_ERROR, sqlite3.SQLITE_READONLY, sqlite3.SQLITE_MISMATCH,
			sqlite3.SQLITE_RANGE, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_CONSTRAINT:
			return &ExecutionError{Code: sqlite.ErrorCodeString[se.Code()], Message: trimSQLiteMessage(se.Error())}
		case sqlite3.SQLITE_INTERRUPT:
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}
	return fmt.Errorf("sqlite: %w", err)
}

// trimSQLiteMessage drops the driver's code suffix from an error message.
func trimSQLiteMessage(msg string) string {
	if i := strings.LastIndex(msg, " ("); i > 0 && strings.HasSuffix(msg, ")") {
		return msg[:i]
	}
	return msg
}

// Columns lists every column of every table and view.
func (s *SQLiteStore) Columns(ctx context.Context) ([]ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type FROM sqlite_master
		 WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	type relation struct{ name, kind string }
	var rels []relation
	for rows.Next() {
		var r relation
		if err := rows.Scan(&r.name, &r.kind); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list tables: %w", err)
		}
		rels = append(rels, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	var out []ColumnInfo
	for _, rel := range rels {
		cols, err := s.db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?)`, rel.name)
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", rel.name, err)
		}
		for cols.Next() {
			var name, typ string
			if err := cols.Scan(&name, &typ); err != nil {
				cols.Close()
				return nil, fmt.Errorf("describe %s: %w", rel.name, err)
			}
			out = append(out, ColumnInfo{Table: rel.name, Name: name, Type: strings.ToLower(typ), Kind: rel.kind})
		}
		cols.Close()
		if err := cols.Err(); err != nil {
			return nil, fmt.Errorf("describe %s: %w", rel.name, err)
		}
	}
	return out, nil
}

// Ping checks connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
