package delivery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// LocationCache keeps the slow-moving zone/area/agent listings in Redis so
// the storefront's destination pickers do not hit the provider on every
// page load. A nil *LocationCache is a valid no-op cache.
type LocationCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewLocationCache(rdb *redis.Client, ttl time.Duration, logger *logrus.Logger) *LocationCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &LocationCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *LocationCache) get(ctx context.Context, key string, out interface{}) bool {
	if c == nil || c.rdb == nil {
		return false
	}

	data, err := c.rdb.Get(ctx, "pickup-mtaani:"+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).WithField("key", key).Warn("Location cache read failed")
		}
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Location cache entry corrupt")
		return false
	}
	return true
}

func (c *LocationCache) set(ctx context.Context, key string, value interface{}) {
	if c == nil || c.rdb == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, "pickup-mtaani:"+key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Location cache write failed")
	}
}
