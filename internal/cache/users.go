package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"authgate/api/internal/models"
)

// UserCache is a read-through cache over user records, keyed by id. Users
// are immutable after creation in this service, so short-TTL caching cannot
// serve stale identity data. A nil client degrades to a no-op.
type UserCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewUserCache(rdb *redis.Client, ttl time.Duration) *UserCache {
	return &UserCache{rdb: rdb, ttl: ttl}
}

func (c *UserCache) Get(ctx context.Context, id string) (models.User, bool) {
	if c == nil || c.rdb == nil {
		return models.User{}, false
	}

	raw, err := c.rdb.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		return models.User{}, false
	}

	var user models.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return models.User{}, false
	}
	return user, true
}

func (c *UserCache) Set(ctx context.Context, user models.User) {
	if c == nil || c.rdb == nil {
		return
	}

	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, userKey(user.ID), raw, c.ttl)
}

func userKey(id string) string {
	return fmt.Sprintf("user:%s", id)
}
