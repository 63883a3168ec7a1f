package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/playintel/market-analyst/internal/model"
)

// quotaScript applies rollover and the requested operation in one atomic
// step. KEYS[1] is the user hash; ARGV is now_ms, limit, next_reset_ms,
// plan, op.
var quotaScript = redis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset_at') or '0')
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local op = ARGV[5]
if reset == 0 or now >= reset then
	used = 0
	reset = tonumber(ARGV[3])
end
local allowed = 1
if op == 'reserve' then
	if limit >= 0 and used >= limit then
		allowed = 0
	else
		used = used + 1
	end
elseif op == 'release' then
	if used > 0 then
		used = used - 1
	end
end
if op ~= 'get' then
	redis.call('HSET', KEYS[1], 'used', used, 'reset_at', reset, 'updated_at', now)
	if ARGV[4] ~= '' then
		redis.call('HSET', KEYS[1], 'plan', ARGV[4])
	end
	redis.call('PEXPIREAT', KEYS[1], reset + 2678400000)
end
return {allowed, used, reset}
`)

// RedisStore keeps one hash per user and mutates it through a Lua script.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to addr.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "quota:"}
}

func (s *RedisStore) run(ctx context.Context, userID, plan string, limit int, now time.Time, op string) (model.QuotaRecord, bool, error) {
	res, err := quotaScript.Run(ctx, s.client, []string{s.prefix + userID},
		now.UnixMilli(), limit, NextReset(now).UnixMilli(), plan, op,
	).Slice()
	if err != nil {
		return model.QuotaRecord{}, false, err
	}
	if len(res) != 3 {
		return model.QuotaRecord{}, false, fmt.Errorf("unexpected script reply %v", res)
	}
	vals := make([]int64, 3)
	for i, v := range res {
		switch x := v.(type) {
		case int64:
			vals[i] = x
		case string:
			n, err := strconv.ParseInt(x, 10, 64)
			if err != nil {
				return model.QuotaRecord{}, false, fmt.Errorf("unexpected script reply %v", res)
			}
			vals[i] = n
		default:
			return model.QuotaRecord{}, false, fmt.Errorf("unexpected script reply %v", res)
		}
	}

	return model.QuotaRecord{
		UserID:    userID,
		Plan:      plan,
		Used:      int(vals[1]),
		ResetAt:   time.UnixMilli(vals[2]).UTC(),
		UpdatedAt: now,
	}, vals[0] == 1, nil
}

// Reserve consumes one unit if the user is under limit.
func (s *RedisStore) Reserve(ctx context.Context, userID, plan string, limit int, now time.Time) (model.QuotaRecord, bool, error) {
	return s.run(ctx, userID, plan, limit, now, "reserve")
}

// Release returns one unit in the current period.
func (s *RedisStore) Release(ctx context.Context, userID string, now time.Time) (model.QuotaRecord, error) {
	rec, _, err := s.run(ctx, userID, "", model.Unlimited, now, "release")
	return rec, err
}

// Get returns the current record.
func (s *RedisStore) Get(ctx context.Context, userID, plan string, now time.Time) (model.QuotaRecord, error) {
	rec, _, err := s.run(ctx, userID, plan, model.Unlimited, now, "get")
	return rec, err
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
