package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/playintel/market-analyst/internal/model"
)

// PostgresStore runs statements inside read-only transactions on a pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresStore connects a pool to dsn.
func NewPostgresStore(ctx context.Context, dsn string, opts Options) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	cfg.ConnConfig.RuntimeParams["application_name"] = "market-analyst"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresStore{pool: pool, opts: opts}, nil
}

// Driver returns the dialect name.
func (s *PostgresStore) Driver() string {
	return DriverPostgres
}

// Query runs a single statement in a read-only transaction.
func (s *PostgresStore) Query(ctx context.Context, query string, limit int) (*model.QueryResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	defer tx.Rollback(ctx)

	if s.opts.StatementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", s.opts.StatementTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, s.classify(ctx, err)
		}
	}

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	limit = clampLimit(limit)
	result := &model.QueryResult{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if result.RowCount == limit {
			result.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, s.classify(ctx, err)
		}
		for i := range vals {
			vals[i] = normalize(vals[i])
		}
		result.Rows = append(result.Rows, vals)
		result.RowCount++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, s.classify(ctx, err)
	}
	return result, nil
}

// classify separates statement failures, which drive repair, from
// infrastructure failures, which do not.
func (s *PostgresStore) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return ctx.Err()
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014":
			return fmt.Errorf("%w: %s", ErrTimeout, pgErr.Message)
		case statementClass(pgErr.Code):
			return &ExecutionError{Code: pgErr.Code, Message: pgErr.Message}
		}
	}
	return fmt.Errorf("postgres: %w", err)
}

// statementClass reports whether a SQLSTATE describes a fault in the
// statement itself rather than the server or connection.
func statementClass(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "42", // syntax error or access rule violation
		"22", // data exception
		"21", // cardinality violation
		"0A", // feature not supported
		"2F", // SQL routine exception
		"25": // invalid transaction state, includes read-only violations
		return true
	}
	return false
}

// Columns lists every column of every table and view in the current schema.
func (s *PostgresStore) Columns(ctx context.Context) ([]ColumnInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.table_name, c.column_name, c.data_type,
		       CASE t.table_type WHEN 'VIEW' THEN 'view' ELSE 'table' END
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = current_schema()
		ORDER BY c.table_name, c.ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}
	defer rows.Close()

	var out []ColumnInfo
	for rows.Next() {
		var ci ColumnInfo
		if err := rows.Scan(&ci.Table, &ci.Name, &ci.Type, &ci.Kind); err != nil {
			return nil, fmt.Errorf("introspect columns: %w", err)
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
