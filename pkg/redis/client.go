package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
)

// Every key the backend writes lives under "mdm:<kind>:...".
const keyNamespace = "mdm"

// Owner-scoped lock scripts: a holder may only drop or extend a lock whose
// value still equals the token it wrote.
var (
	releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	extendIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// store is the subset of go-redis used here; tests substitute a map-backed fake.
type store interface {
	redis.Scripter
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	TxPipelined(context.Context, func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Close() error
}

// Client holds sessions, idempotency replays, login rate-limit counters and
// the cron lock.
type Client struct {
	store store
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore is the slice of Client the idempotency middleware needs.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

// New connects using MDM_REDIS_URL, or the discrete address settings when
// no URL is given, and pings before returning.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis connection established")
	}
	return &Client{store: raw}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
		if opts.DB == 0 {
			opts.DB = cfg.DB
		}
	case cfg.Address == "":
		return nil, errors.New("redis url or address is required")
	}

	// Pool and timeout settings from the environment win over URL defaults.
	override(&opts.PoolSize, cfg.PoolSize)
	override(&opts.MinIdleConns, cfg.MinIdleConns)
	override(&opts.DialTimeout, cfg.DialTimeout)
	override(&opts.ReadTimeout, cfg.ReadTimeout)
	override(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func override[T int | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

func (c *Client) Set(ctx context.Context, k string, value any, ttl time.Duration) error {
	return c.store.Set(ctx, k, value, ttl).Err()
}

// Get returns redis.Nil when k is absent.
func (c *Client) Get(ctx context.Context, k string) (string, error) {
	return c.store.Get(ctx, k).Result()
}

// SetNX writes value only if k is absent and reports whether it did.
func (c *Client) SetNX(ctx context.Context, k string, value any, ttl time.Duration) (bool, error) {
	return c.store.SetNX(ctx, k, value, ttl).Result()
}

// IncrWithTTL bumps a window counter. INCR and EXPIRE NX travel in one
// MULTI so a crash between them cannot leave a counter that never expires.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.store.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		if ttl > 0 {
			pipe.ExpireNX(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// ReleaseIfOwner deletes key only while it still holds owner.
func (c *Client) ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseIfOwner.Run(ctx, c.store, []string{key}, owner).Int64()
	return n == 1, err
}

// ExtendIfOwner resets the TTL of key only while it still holds owner.
func (c *Client) ExtendIfOwner(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := extendIfOwner.Run(ctx, c.store, []string{key}, owner, ttl.Milliseconds()).Int64()
	return n == 1, err
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.store.Del(ctx, keys...).Err()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.store.Close()
}

// IdempotencyKey is mdm:idempotency:<scope>:<id>; scope is the actor plus route.
func (c *Client) IdempotencyKey(scope, id string) string {
	return key("idempotency", scope, id)
}

// RateLimitKey is mdm:rate_limit:<scope>, e.g. login:ip:<addr>.
func (c *Client) RateLimitKey(scope string) string {
	return key("rate_limit", scope)
}

// AccessSessionKey is mdm:session:access:<jti>.
func (c *Client) AccessSessionKey(accessID string) string {
	return key("session", "access", accessID)
}

// LockKey is mdm:lock:<name>.
func (c *Client) LockKey(name string) string {
	return key("lock", name)
}

func key(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
