package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// Marker values stored under dedupe keys.
const (
	markerProcessing = "processing"
	markerProcessed  = "processed"
)

// defaultKeyPrefix namespaces dedupe keys in a shared Redis instance.
const defaultKeyPrefix = "convogate:dedupe:"

// Compile-time check that RedisGuard implements Guard.
var _ Guard = (*RedisGuard)(nil)

// unmarkScript deletes the key only while it still holds the processing
// marker, so a concurrent MarkProcessed is never undone.
var unmarkScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard implements Guard over Redis, using SET NX PX as the atomic
// set-if-absent-with-expiry primitive.
type RedisGuard struct {
	client    *redis.Client
	keyPrefix string
}

// Opts holds RedisGuard configuration options.
type Opts struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Option configures a RedisGuard.
type Option func(*Opts)

// WithAddr sets the Redis server address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithPassword sets the Redis password.
func WithPassword(password string) Option {
	return func(o *Opts) { o.Password = password }
}

// WithDB selects the Redis logical database.
func WithDB(db int) Option {
	return func(o *Opts) { o.DB = db }
}

// WithKeyPrefix overrides the key namespace prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.KeyPrefix = prefix }
}

// NewRedisGuard creates a Redis-backed dedupe guard and verifies
// connectivity.
func NewRedisGuard(ctx context.Context, opts ...Option) (*RedisGuard, error) {
	cfg := Opts{KeyPrefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address not set")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Debug("RedisGuard connected", "addr", cfg.Addr, "db", cfg.DB)
	return &RedisGuard{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// IsDuplicate reports whether the key is locked or already processed.
func (g *RedisGuard) IsDuplicate(ctx context.Context, key string) (bool, error) {
	err := g.client.Get(ctx, g.keyPrefix+key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedupe check failed: %w", err)
	}
	return true, nil
}

// MarkProcessing takes the short processing lock via SET NX.
func (g *RedisGuard) MarkProcessing(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := g.client.SetNX(ctx, g.keyPrefix+key, markerProcessing, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark processing failed: %w", err)
	}
	slog.Debug("RedisGuard mark processing", "key", key, "acquired", acquired)
	return acquired, nil
}

// MarkProcessed overwrites the lock with the long-lived processed marker.
func (g *RedisGuard) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	if err := g.client.Set(ctx, g.keyPrefix+key, markerProcessed, ttl).Err(); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// UnmarkProcessing releases the lock if and only if it is still held.
func (g *RedisGuard) UnmarkProcessing(ctx context.Context, key string) error {
	if err := unmarkScript.Run(ctx, g.client, []string{g.keyPrefix + key}, markerProcessing).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("unmark processing failed: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
