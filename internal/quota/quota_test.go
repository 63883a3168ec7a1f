package quota

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/pkg/logger"
)

func TestNextReset(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextReset(tt.now))
	}
}

func TestPlansLimit(t *testing.T) {
	assert.Equal(t, 30, DefaultPlans.Limit("free"))
	assert.Equal(t, 150, DefaultPlans.Limit("Indie"))
	assert.Equal(t, model.Unlimited, DefaultPlans.Limit("studio"))
	assert.Equal(t, UnknownPlanLimit, DefaultPlans.Limit("enterprise"))
}

// storeSuite runs the behaviour every Store must share.
func storeSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	jan := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)

	t.Run("denies at limit", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 30; i++ {
			_, ok, err := s.Reserve(ctx, "u-full", "free", 30, jan)
			require.NoError(t, err)
			require.True(t, ok)
		}
		rec, ok, err := s.Reserve(ctx, "u-full", "free", 30, jan)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 30, rec.Used)
		assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), rec.ResetAt)
	})

	t.Run("rollover at boundary charges new period", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 3; i++ {
			_, _, err := s.Reserve(ctx, "u-roll", "free", 3, jan)
			require.NoError(t, err)
		}
		_, ok, err := s.Reserve(ctx, "u-roll", "free", 3, jan)
		require.NoError(t, err)
		require.False(t, ok)

		boundary := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		got, err := s.Get(ctx, "u-roll", "free", boundary)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Used)

		rec, ok, err := s.Reserve(ctx, "u-roll", "free", 3, boundary)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, rec.Used)
		assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), rec.ResetAt)
	})

	t.Run("unlimited always admits", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 40; i++ {
			_, ok, err := s.Reserve(ctx, "u-studio", "studio", model.Unlimited, jan)
			require.NoError(t, err)
			require.True(t, ok)
		}
	})

	t.Run("release refunds within period", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.Reserve(ctx, "u-rel", "free", 30, jan)
		require.NoError(t, err)
		_, _, err = s.Reserve(ctx, "u-rel", "free", 30, jan)
		require.NoError(t, err)

		rec, err := s.Release(ctx, "u-rel", jan)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Used)

		rec, err = s.Release(ctx, "u-rel", jan.AddDate(0, 1, 0))
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Used, "release never carries into a new period")
	})

	t.Run("get does not consume", func(t *testing.T) {
		s := newStore(t)
		rec, err := s.Get(ctx, "u-new", "free", jan)
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Used)
		assert.False(t, rec.ResetAt.IsZero())

		rec, err = s.Get(ctx, "u-new", "free", jan)
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Used)
	})

	t.Run("concurrent reserves never exceed limit", func(t *testing.T) {
		s := newStore(t)
		const limit = 10
		var admitted int64
		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.Reserve(ctx, "u-race", "free", limit, jan)
				if err == nil && ok {
					atomic.AddInt64(&admitted, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(limit), admitted)
		rec, err := s.Get(ctx, "u-race", "free", jan)
		require.NoError(t, err)
		assert.Equal(t, limit, rec.Used)
	})
}

func TestMemoryStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "quota.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("QUOTA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("QUOTA_TEST_REDIS_ADDR not set")
	}
	var n int
	storeSuite(t, func(t *testing.T) Store {
		s, err := NewRedisStore(context.Background(), addr, "", 0)
		require.NoError(t, err)
		n++
		s.prefix = "quota-test:" + strconv.FormatInt(time.Now().UnixNano(), 36) + ":" + strconv.Itoa(n) + ":"
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestGormStore(t *testing.T) {
	dsn := os.Getenv("QUOTA_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("QUOTA_TEST_MYSQL_DSN not set")
	}
	storeSuite(t, func(t *testing.T) Store {
		s, err := NewGormStore(context.Background(), dsn)
		require.NoError(t, err)
		require.NoError(t, s.db.Exec("DELETE FROM quota_records").Error)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestTracker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)
	tr := NewTracker(NewMemoryStore(), nil, logger.NewNop()).WithClock(func() time.Time { return now })

	t.Run("free plan denial reports zero remaining", func(t *testing.T) {
		for i := 0; i < 30; i++ {
			d, err := tr.CheckAndReserve(ctx, "alice", "free")
			require.NoError(t, err)
			require.True(t, d.Allowed)
		}
		d, err := tr.CheckAndReserve(ctx, "alice", "free")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		view := d.Record.View()
		assert.Equal(t, 0, view.Remaining)
		assert.Equal(t, 30, view.Limit)
		assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), view.ResetAt)
	})

	t.Run("release restores one unit", func(t *testing.T) {
		rec, err := tr.Release(ctx, "alice", "free", NextReset(now))
		require.NoError(t, err)
		assert.Equal(t, 29, rec.Used)
		assert.Equal(t, 1, rec.Remaining())
	})

	t.Run("usage is read only", func(t *testing.T) {
		rec, err := tr.Usage(ctx, "alice", "free")
		require.NoError(t, err)
		assert.Equal(t, 29, rec.Used)
	})

	t.Run("unknown plan gets the fallback limit", func(t *testing.T) {
		d, err := tr.CheckAndReserve(ctx, "bob", "trial")
		require.NoError(t, err)
		assert.Equal(t, UnknownPlanLimit, d.Record.Limit)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := tr.CheckAndReserve(ctx, "", "free")
		assert.ErrorIs(t, err, ErrMissingUser)
	})
}

func TestTrackerReleaseAcrossPeriods(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 30, 23, 59, 58, 0, time.UTC)
	tr := NewTracker(NewMemoryStore(), nil, logger.NewNop()).WithClock(func() time.Time { return now })

	late, err := tr.CheckAndReserve(ctx, "carol", "free")
	require.NoError(t, err)
	require.True(t, late.Allowed)

	now = time.Date(2026, 7, 1, 0, 0, 5, 0, time.UTC)
	fresh, err := tr.CheckAndReserve(ctx, "carol", "free")
	require.NoError(t, err)
	require.Equal(t, 1, fresh.Record.Used)

	rec, err := tr.Release(ctx, "carol", "free", late.Record.ResetAt)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Used, "a June reservation must not be refunded from July")
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), rec.ResetAt)

	rec, err = tr.Release(ctx, "carol", "free", fresh.Record.ResetAt)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Used)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "cassandra", Options{})
	assert.Error(t, err)
}
