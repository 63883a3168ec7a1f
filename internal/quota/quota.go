// Package quota enforces per-user monthly query allowances.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/pkg/logger"
	"github.com/playintel/market-analyst/pkg/metrics"
)

// UnknownPlanLimit applies to plans not listed in Plans.
const UnknownPlanLimit = 5

// ErrMissingUser is returned when no user identity was supplied.
var ErrMissingUser = errors.New("quota: user id is required")

// Plans maps plan names to monthly limits.
type Plans map[string]int

// DefaultPlans are the published plan allowances.
var DefaultPlans = Plans{
	"free":   30,
	"indie":  150,
	"studio": model.Unlimited,
}

// Limit returns the monthly allowance for plan.
func (p Plans) Limit(plan string) int {
	if l, ok := p[strings.ToLower(plan)]; ok {
		return l
	}
	return UnknownPlanLimit
}

// NextReset returns the first instant of the calendar month after now, UTC.
func NextReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// rollover starts a new period when now has reached the reset boundary.
// It reports whether the record changed.
func rollover(rec *model.QuotaRecord, now time.Time) bool {
	if !rec.ResetAt.IsZero() && now.Before(rec.ResetAt) {
		return false
	}
	rec.Used = 0
	rec.ResetAt = NextReset(now)
	return true
}

// admit applies the limit to a record already rolled over for now. It
// increments used when admitted.
func admit(rec *model.QuotaRecord, limit int) bool {
	if limit != model.Unlimited && rec.Used >= limit {
		return false
	}
	rec.Used++
	return true
}

// Store persists QuotaRecords. Every method applies period rollover before
// acting, and Reserve performs its check and increment atomically.
type Store interface {
	// Reserve consumes one unit if the user is under limit.
	Reserve(ctx context.Context, userID, plan string, limit int, now time.Time) (model.QuotaRecord, bool, error)

	// Release returns one previously reserved unit in the current period.
	Release(ctx context.Context, userID string, now time.Time) (model.QuotaRecord, error)

	// Get returns the current record without consuming anything.
	Get(ctx context.Context, userID, plan string, now time.Time) (model.QuotaRecord, error)

	Close() error
}

// Decision is the outcome of CheckAndReserve.
type Decision struct {
	Allowed bool
	Record  model.QuotaRecord
}

// Tracker gates requests on the user's plan allowance.
type Tracker struct {
	store  Store
	plans  Plans
	logger *logger.Logger
	now    func() time.Time
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, plans Plans, log *logger.Logger) *Tracker {
	if plans == nil {
		plans = DefaultPlans
	}
	return &Tracker{
		store:  store,
		plans:  plans,
		logger: log.Named("quota"),
		now:    time.Now,
	}
}

// WithClock overrides the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// CheckAndReserve admits the request and consumes one unit, or denies it
// with remaining zero and the reset time.
func (t *Tracker) CheckAndReserve(ctx context.Context, userID, plan string) (Decision, error) {
	if userID == "" {
		return Decision{}, ErrMissingUser
	}
	limit := t.plans.Limit(plan)

	rec, ok, err := t.store.Reserve(ctx, userID, plan, limit, t.now().UTC())
	if err != nil {
		return Decision{}, fmt.Errorf("reserve quota: %w", err)
	}
	rec.Limit = limit
	rec.Plan = plan

	decision := "allowed"
	if !ok {
		decision = "denied"
		t.logger.Info("quota exceeded",
			zap.String("user_id", userID),
			zap.String("plan", plan),
			zap.Int("used", rec.Used),
			zap.Time("reset_at", rec.ResetAt),
		)
	}
	metrics.QuotaDecisions.WithLabelValues(plan, decision).Inc()

	return Decision{Allowed: ok, Record: rec}, nil
}

// Release refunds a reservation for a request that turned out not to count.
// reservedFor is the ResetAt of the reservation; when the period has rolled
// over since, the refund is skipped so the new period is not credited.
func (t *Tracker) Release(ctx context.Context, userID, plan string, reservedFor time.Time) (model.QuotaRecord, error) {
	if userID == "" {
		return model.QuotaRecord{}, ErrMissingUser
	}
	now := t.now().UTC()
	if !reservedFor.IsZero() && !reservedFor.UTC().Equal(NextReset(now)) {
		t.logger.Info("refund skipped, quota period rolled over",
			zap.String("user_id", userID),
			zap.Time("reserved_for", reservedFor),
		)
		metrics.QuotaDecisions.WithLabelValues(plan, "release_skipped").Inc()
		return t.Usage(ctx, userID, plan)
	}

	rec, err := t.store.Release(ctx, userID, now)
	if err != nil {
		return model.QuotaRecord{}, fmt.Errorf("release quota: %w", err)
	}
	rec.Limit = t.plans.Limit(plan)
	rec.Plan = plan
	metrics.QuotaDecisions.WithLabelValues(plan, "released").Inc()
	return rec, nil
}

// Usage returns the user's current record without consuming anything.
func (t *Tracker) Usage(ctx context.Context, userID, plan string) (model.QuotaRecord, error) {
	if userID == "" {
		return model.QuotaRecord{}, ErrMissingUser
	}
	rec, err := t.store.Get(ctx, userID, plan, t.now().UTC())
	if err != nil {
		return model.QuotaRecord{}, fmt.Errorf("read quota: %w", err)
	}
	rec.Limit = t.plans.Limit(plan)
	rec.Plan = plan
	return rec, nil
}

// Close closes the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
}

// Open returns the store for a backend name.
func Open(ctx context.Context, backend string, opts Options) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(ctx, opts.DSN)
	case "redis":
		return NewRedisStore(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	case "mysql":
		return NewGormStore(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown quota backend %q", backend)
	}
}

// Options configures a quota store connection.
type Options struct {
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
