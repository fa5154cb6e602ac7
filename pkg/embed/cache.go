package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is how long a query embedding stays cached.
const DefaultCacheTTL = 24 * time.Hour

// KV is the subset of a Redis client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisOptions configures DialRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// DialRedis connects to Redis and verifies the connection with PING.
func DialRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("embed: redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Cache memoises single-text embeddings in Redis. Batch calls, which only
// come from indexing, go straight to the wrapped embedder. Redis failures are
// logged and never fail the call.
type Cache struct {
	next   Embedder
	kv     KV
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wraps next. model namespaces the keys so vectors from different
// models never mix.
func NewCache(next Embedder, kv KV, model string, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{next: next, kv: kv, model: model, ttl: ttl, logger: logger}
}

// Key returns the Redis key for text.
func (c *Cache) Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "lexrag:emb:" + c.model + ":" + hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text or computes and stores it.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.Key(text)

	raw, err := c.kv.Get(ctx, key).Result()
	switch {
	case err == nil:
		var vec []float32
		if jerr := json.Unmarshal([]byte(raw), &vec); jerr == nil && len(vec) > 0 {
			return vec, nil
		}
		c.logger.Warn("embed: corrupt cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("embed: cache get failed", "key", key, "err", err)
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(vec)
	if err != nil {
		return vec, nil
	}
	if err := c.kv.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("embed: cache set failed", "key", key, "err", err)
	}
	return vec, nil
}

// EmbedBatch delegates to the wrapped embedder.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedBatch(ctx, texts)
}
