// Package cache stores completed backtest results keyed by a fingerprint
// of everything that determines them.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketintel/internal/backtest"
)

// DefaultTTL is how long a cached result stays valid.
const DefaultTTL = 24 * time.Hour

// KeyPrefix namespaces result keys.
const KeyPrefix = "marketintel:backtest:"

// Cache stores results by fingerprint.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*backtest.Result, bool, error)
	Set(ctx context.Context, fingerprint string, res *backtest.Result) error
}

// Compile-time interface check.
var _ Cache = (*RedisCache)(nil)

// Fingerprint is the hex sha256 of the normalised request and effective
// options. Two runs with the same fingerprint produce the same result.
func Fingerprint(req backtest.Request, opts backtest.Options) string {
	canonical := struct {
		Request backtest.Request `json:"request"`
		Options backtest.Options `json:"options"`
	}{req.Normalized(), opts.WithDefaults()}

	// Plain structs, maps with string keys and floats; Marshal only fails
	// on NaN/Inf, which Validate rejects before any run.
	data, err := json.Marshal(canonical)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", canonical))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RedisCache stores results as JSON in Redis.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache. A non-positive ttl uses DefaultTTL.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Key returns the Redis key for fingerprint.
func Key(fingerprint string) string { return KeyPrefix + fingerprint }

// Get returns the cached result. A miss is (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*backtest.Result, bool, error) {
	data, err := c.client.Get(ctx, Key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var res backtest.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return &res, true, nil
}

// Set stores res with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, fingerprint string, res *backtest.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, Key(fingerprint), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
