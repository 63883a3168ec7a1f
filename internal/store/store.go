// Package store provides read-only access to the analytic database.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/playintel/market-analyst/internal/model"
)

// DefaultRowLimit caps the rows returned by a single statement.
const DefaultRowLimit = 500

// Driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	// ErrTimeout is returned when a statement exceeds its time budget.
	ErrTimeout = errors.New("store: statement timeout")
	// ErrUnknownDriver is returned by Open for an unsupported driver.
	ErrUnknownDriver = errors.New("store: unknown driver")
)

// ExecutionError is a statement-level failure: bad column, type mismatch,
// syntax error or a rejected write. It is safe to feed back for repair but
// must never reach an end user.
type ExecutionError struct {
	Code    string
	Message string
}

func (e *ExecutionError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// IsExecutionError reports whether err carries a statement-level failure.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// ColumnInfo is one live column as reported by the database catalog.
type ColumnInfo struct {
	Table string
	Name  string
	Type  string
	Kind  string
}

// Introspector lists the live columns of the database.
type Introspector interface {
	Columns(ctx context.Context) ([]ColumnInfo, error)
}

// Store executes read-only statements.
type Store interface {
	Introspector

	// Query runs a single statement and returns at most limit rows.
	Query(ctx context.Context, sql string, limit int) (*model.QueryResult, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Driver returns the dialect name.
	Driver() string

	Close() error
}

// Options configures a store connection.
type Options struct {
	StatementTimeout time.Duration
	MaxConns         int32
}

// Open connects to the analytic database for the given driver.
func Open(ctx context.Context, driver, dsn string, opts Options) (Store, error) {
	switch driver {
	case DriverPostgres, "pgx":
		return NewPostgresStore(ctx, dsn, opts)
	case DriverSQLite:
		return NewSQLiteStore(dsn, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// normalize converts driver values into JSON-friendly scalars.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case pgtype.Numeric:
		if !x.Valid || x.NaN {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	default:
		return v
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRowLimit
	}
	return limit
}
