package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore handles Redis interactions: scrape-dedup marks and the shared
// rate-limit counters (the latter through ratelimit.RedisLimiter, which
// takes the raw client).
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for components that need their own
// command shapes (rate limiter scripts).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// MarkScraped sets a key with a TTL to prevent re-scraping a source URL.
func (s *RedisStore) MarkScraped(ctx context.Context, url string, ttl time.Duration) error {
	key := fmt.Sprintf("scraped:%s", url)
	return s.client.Set(ctx, key, "1", ttl).Err()
}

// RecentlyScraped checks if a source URL was scraped within the TTL.
func (s *RedisStore) RecentlyScraped(ctx context.Context, url string) (bool, error) {
	key := fmt.Sprintf("scraped:%s", url)
	val, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return val == 1, nil
}
