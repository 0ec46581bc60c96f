package directory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisCache shares directory records across portal processes. Entries are
// JSON under driver:access:<email> with a TTL so admin edits eventually
// propagate even without an explicit invalidate.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, ttl time.Duration) *RedisCache {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisCache{client: c, ttl: ttl}
}

func cacheKey(email string) string { return "driver:access:" + email }

func (r *RedisCache) Get(ctx context.Context, email string) (models.UserAccess, bool) {
	raw, err := r.client.Get(ctx, cacheKey(email)).Bytes()
	if err != nil {
		return models.UserAccess{}, false
	}
	var record models.UserAccess
	if err := json.Unmarshal(raw, &record); err != nil {
		return models.UserAccess{}, false
	}
	return record, true
}

func (r *RedisCache) Set(ctx context.Context, email string, record models.UserAccess) {
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, cacheKey(email), raw, r.ttl).Err()
}

func (r *RedisCache) Close() error { return r.client.Close() }
