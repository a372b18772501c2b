package visitor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupTTL outlives a UTC day in every timezone.
const DedupTTL = 36 * time.Hour

type redisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisDeduper remembers keys in Redis with SET NX.
func NewRedisDeduper(rdb *redis.Client) Deduper {
	return &redisDeduper{rdb: rdb, ttl: DedupTTL}
}

func (d *redisDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (d *redisDeduper) Forget(ctx context.Context, key string) error {
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// RedisProbe reports Redis reachability for the health endpoint.
type RedisProbe struct {
	rdb     *redis.Client
	timeout time.Duration
}

func NewRedisProbe(rdb *redis.Client) *RedisProbe {
	return &RedisProbe{rdb: rdb, timeout: 2 * time.Second}
}

func (p *RedisProbe) Name() string { return "redis" }

func (p *RedisProbe) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.rdb.Ping(ctx).Err() == nil
}
