package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the throttle budget.
type Config struct {
	// MaxAttempts is the number of failures a key may record per window.
	MaxAttempts int
	// Window is the lifetime of a counter, started by its first failure.
	Window time.Duration
	// PerIP adds a second counter keyed by client address.
	PerIP bool
	// Namespace prefixes every key. Defaults to "crm:rl".
	Namespace string
}

// DefaultConfig mirrors the device lockout threshold over a 15 minute window.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		PerIP:       true,
		Namespace:   "crm:rl",
	}
}

// Limiter enforces per-email and per-IP login budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Namespace == "" {
		cfg.Namespace = "crm:rl"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin reports [ErrRateLimited] when either the email or the address
// has used up its budget. It does not count the attempt.
func (l *Limiter) CheckLogin(ctx context.Context, email, ip string) error {
	for _, key := range l.keys(email, ip) {
		if err := l.checkCounter(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure counts one failed login. It returns [ErrRateLimited] when
// this failure used the last of the budget.
func (l *Limiter) RecordFailure(ctx context.Context, email, ip string) error {
	limited := false
	for _, key := range l.keys(email, ip) {
		count, err := l.incrementWithTTL(ctx, key)
		if err != nil {
			return err
		}
		if count >= int64(l.config.MaxAttempts) {
			limited = true
		}
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counters after a successful login.
func (l *Limiter) Reset(ctx context.Context, email, ip string) error {
	if err := l.redis.Del(ctx, l.keys(email, ip)...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the failures recorded for email in the current window.
// Unknown emails return zero.
func (l *Limiter) Attempts(ctx context.Context, email string) (int, error) {
	count, err := l.redis.Get(ctx, l.emailKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// RetryAfter returns how long until the email's window closes, zero when no
// window is open.
func (l *Limiter) RetryAfter(ctx context.Context, email string) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, l.emailKey(email)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (l *Limiter) keys(email, ip string) []string {
	keys := []string{l.emailKey(email)}
	if l.config.PerIP && ip != "" {
		keys = append(keys, l.config.Namespace+":ip:"+ip)
	}
	return keys
}

func (l *Limiter) emailKey(email string) string {
	return l.config.Namespace + ":login:" + strings.ToLower(strings.TrimSpace(email))
}

func (l *Limiter) checkCounter(ctx context.Context, key string) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
