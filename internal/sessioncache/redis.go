// Package sessioncache keeps a tab's transcript in Redis so a reconnecting
// page gets its conversation back for as long as the tab session lives.
package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/transcript"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "shop_assistant:transcript:"

// DefaultTTL is how long an idle transcript survives.
const DefaultTTL = 30 * time.Minute

// RedisCache implements transcript.Persister on top of Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.SugaredLogger
}

// Connect parses url, pings the server and returns a ready cache.
func Connect(ctx context.Context, url string, ttl time.Duration, log *zap.SugaredLogger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Infof("sessioncache: connected to Redis")
	return New(client, ttl, log), nil
}

// New wraps an existing client.
func New(client *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisCache{client: client, ttl: ttl, log: log}
}

func key(sessionID string) string { return keyPrefix + sessionID }

// Save stores the full transcript and refreshes its expiry.
func (c *RedisCache) Save(ctx context.Context, sessionID string, turns []transcript.Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return c.client.Set(ctx, key(sessionID), data, c.ttl).Err()
}

// Load returns the stored transcript, or nil when none exists.
func (c *RedisCache) Load(ctx context.Context, sessionID string) ([]transcript.Turn, error) {
	data, err := c.client.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var turns []transcript.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		c.log.Warnf("sessioncache: dropping unreadable transcript %s: %v", sessionID, err)
		return nil, nil
	}
	return turns, nil
}

// Delete removes the stored transcript.
func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, key(sessionID)).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
