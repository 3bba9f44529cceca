package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/bridge/internal/route"
)

// KeyPrefix is the Redis key prefix for cached decisions:
//
//	Key:   decision:<sha256(session \x00 normalized text)>
//	Value: JSON-encoded route.Decision
//	TTL:   cache TTL
const KeyPrefix = "decision:"

// Redis is a Cache shared between bridge instances. Expiry is delegated to
// Redis key TTLs.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed cache using the provided client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get fetches and decodes the cached decision. A missing key is a miss, not
// an error.
func (r *Redis) Get(ctx context.Context, sessionID, normalized string) (route.Decision, bool, error) {
	key := KeyPrefix + route.Key(sessionID, normalized)

	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return route.Decision{}, false, nil
	}
	if err != nil {
		return route.Decision{}, false, fmt.Errorf("cache: get %s: %w", key, err)
	}

	var d route.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return route.Decision{}, false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return d, true, nil
}

// Put stores the decision with a TTL, overwriting any existing value.
func (r *Redis) Put(ctx context.Context, sessionID, normalized string, d route.Decision, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("cache: encode decision: %w", err)
	}

	key := KeyPrefix + route.Key(sessionID, normalized)
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}
