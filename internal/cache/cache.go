package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/retail-inventory/internal/config"
)

// ErrMiss is returned when a key is absent. Callers fall back to the
// database; the cache is never the source of truth.
var ErrMiss = errors.New("cache miss")

// Invalidator is the mutation-side hook: stores delete the keys of entities
// they change and never write values back.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Key builds the cache key for an entity, e.g. "retail:product:42".
func Key(entity string, id int64) string {
	return fmt.Sprintf("retail:%s:%d", entity, id)
}

// Cache is a redis-backed read-through cache for simple entities (shops,
// products, suppliers). Values are JSON with a fixed TTL.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(cfg *config.RedisConfig) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{rdb: rdb, ttl: cfg.TTL}, nil
}

func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return fmt.Errorf("cache get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Noop satisfies Invalidator when no cache is wired, e.g. in tests.
type Noop struct{}

func (Noop) Invalidate(context.Context, ...string) error { return nil }
