package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ThrottleKeys identifies one login attempt. Counting does not depend on
// whether the user exists.
type ThrottleKeys struct {
	Tenant   string
	Username string
	IP       string
}

// Throttle counts failed logins per time window.
type Throttle interface {
	// Blocked reports whether an attempt with keys must be refused and for how long.
	Blocked(ctx context.Context, keys ThrottleKeys) (bool, time.Duration, error)
	// Fail records a failed attempt.
	Fail(ctx context.Context, keys ThrottleKeys) error
	// Reset clears the per-user counter after a successful login.
	Reset(ctx context.Context, keys ThrottleKeys) error
}

// NoopThrottle never blocks.
type NoopThrottle struct{}

func (NoopThrottle) Blocked(context.Context, ThrottleKeys) (bool, time.Duration, error) {
	return false, 0, nil
}
func (NoopThrottle) Fail(context.Context, ThrottleKeys) error  { return nil }
func (NoopThrottle) Reset(context.Context, ThrottleKeys) error { return nil }

// RedisThrottle keeps failure counters in Redis. The first failure in a
// window sets the key's TTL; later failures only increment.
type RedisThrottle struct {
	rdb    redis.UniversalClient
	prefix string

	userMax    int64
	userWindow time.Duration
	ipMax      int64
	ipWindow   time.Duration
}

// NewRedisThrottle builds a throttle over rdb using cfg's limits.
func NewRedisThrottle(rdb redis.UniversalClient, cfg Config) (*RedisThrottle, error) {
	if rdb == nil {
		return nil, errors.New("api: nil redis client")
	}
	return &RedisThrottle{
		rdb:        rdb,
		prefix:     "tenantauth:login:fail",
		userMax:    int64(cfg.LoginUserMax),
		userWindow: cfg.LoginUserWindow,
		ipMax:      int64(cfg.LoginIPMax),
		ipWindow:   cfg.LoginIPWindow,
	}, nil
}

// WithPrefix namespaces keys, for sharing one Redis between deployments or tests.
func (t *RedisThrottle) WithPrefix(prefix string) *RedisThrottle {
	t.prefix = prefix
	return t
}

type counter struct {
	key    string
	max    int64
	window time.Duration
}

func (t *RedisThrottle) counters(k ThrottleKeys) []counter {
	var out []counter
	if t.userMax > 0 && k.Username != "" {
		out = append(out, counter{key: fmt.Sprintf("%s:user:%s:%s", t.prefix, k.Tenant, k.Username), max: t.userMax, window: t.userWindow})
	}
	if t.ipMax > 0 && k.IP != "" {
		out = append(out, counter{key: fmt.Sprintf("%s:ip:%s", t.prefix, k.IP), max: t.ipMax, window: t.ipWindow})
	}
	return out
}

func (t *RedisThrottle) Blocked(ctx context.Context, k ThrottleKeys) (bool, time.Duration, error) {
	for _, c := range t.counters(k) {
		n, err := t.rdb.Get(ctx, c.key).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, 0, err
		}
		if n < c.max {
			continue
		}
		ttl, err := t.rdb.TTL(ctx, c.key).Result()
		if err != nil {
			return false, 0, err
		}
		if ttl <= 0 {
			ttl = c.window
		}
		return true, ttl, nil
	}
	return false, 0, nil
}

func (t *RedisThrottle) Fail(ctx context.Context, k ThrottleKeys) error {
	cs := t.counters(k)
	if len(cs) == 0 {
		return nil
	}
	_, err := t.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, c := range cs {
			p.Incr(ctx, c.key)
			p.ExpireNX(ctx, c.key, c.window)
		}
		return nil
	})
	return err
}

func (t *RedisThrottle) Reset(ctx context.Context, k ThrottleKeys) error {
	if k.Username == "" {
		return nil
	}
	return t.rdb.Del(ctx, fmt.Sprintf("%s:user:%s:%s", t.prefix, k.Tenant, k.Username)).Err()
}

// OpenRedis parses url and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("api: redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("api: redis ping: %w", err)
	}
	return rdb, nil
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
