package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore wraps a redis client and context for operations.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:    context.Background(),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

func dailyKey(kind, adID string) string {
	return fmt.Sprintf("%s:ad:%s:%s", kind, adID, time.Now().UTC().Format("2006-01-02"))
}

// IncrementDailyCounter bumps the per-day counter of the given kind
// (impressions/clicks/dismissals) for an ad. A 48h TTL is applied on first set
// so yesterday's key survives a day boundary for reporting.
func (r *RedisStore) IncrementDailyCounter(adID, kind string) error {
	key := dailyKey(kind, adID)
	val, err := r.Client.Incr(r.Ctx, key).Result()
	if err != nil {
		return err
	}
	if val == 1 {
		r.Client.Expire(r.Ctx, key, 48*time.Hour)
	}
	return nil
}

// DailyCounts returns today's impression, click and dismissal counts for a set
// of ads in one pipelined round trip. Missing keys count as zero.
func (r *RedisStore) DailyCounts(adIDs []string) (map[string][3]int64, error) {
	out := make(map[string][3]int64, len(adIDs))
	if len(adIDs) == 0 {
		return out, nil
	}

	kinds := [3]string{"impressions", "clicks", "dismissals"}
	pipe := r.Client.Pipeline()
	cmds := make(map[string][3]*redis.StringCmd, len(adIDs))
	for _, id := range adIDs {
		var c [3]*redis.StringCmd
		for i, kind := range kinds {
			c[i] = pipe.Get(r.Ctx, dailyKey(kind, id))
		}
		cmds[id] = c
	}
	if _, err := pipe.Exec(r.Ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pipeline exec failed: %w", err)
	}

	for id, c := range cmds {
		var counts [3]int64
		for i := range kinds {
			n, err := c[i].Int64()
			if err != nil && err != redis.Nil {
				n = 0
			}
			counts[i] = n
		}
		out[id] = counts
	}
	return out, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
