package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a [Redis] store.
type RedisOptions struct {
	// Prefix namespaces every key, e.g. one prefix per browser profile.
	Prefix string
	// Channel carries change notifications. Defaults to Prefix + "changes".
	Channel string
	Logger  *slog.Logger
}

// Redis is a device store kept in Redis. Each value returned by [NewRedis]
// or [Redis.Tab] acts as a separate tab.
type Redis struct {
	redis   redis.UniversalClient
	prefix  string
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedis creates a Redis-backed device store.
func NewRedis(redisClient redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "crm:device:"
	}
	if opts.Channel == "" {
		opts.Channel = opts.Prefix + "changes"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Redis{
		redis:   redisClient,
		prefix:  opts.Prefix,
		channel: opts.Channel,
		origin:  uuid.NewString(),
		logger:  opts.Logger,
	}
}

// Tab returns another tab over the same keys.
func (r *Redis) Tab() *Redis {
	c := *r
	c.origin = uuid.NewString()
	return &c
}

// Origin returns the tab identity stamped on its writes.
func (r *Redis) Origin() string {
	return r.origin
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.redis.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.write(ctx, Change{Key: key, Value: value, Origin: r.origin})
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	return r.write(ctx, Change{Key: key, Removed: true, Origin: r.origin})
}

// writeScript applies one change and publishes it only when the stored value
// actually changed, like a browser storage event.
var writeScript = redis.NewScript(`
local old = redis.call('GET', KEYS[1])
if ARGV[1] == '1' then
  if not old then return 0 end
  redis.call('DEL', KEYS[1])
else
  if old == ARGV[2] then return 0 end
  redis.call('SET', KEYS[1], ARGV[2])
end
redis.call('PUBLISH', ARGV[3], ARGV[4])
return 1
`)

func (r *Redis) write(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	removed := "0"
	if c.Removed {
		removed = "1"
	}
	err = writeScript.Run(ctx, r.redis, []string{r.key(c.Key)}, removed, c.Value, r.channel, string(payload)).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Watch subscribes to changes made by other tabs. The subscription is
// confirmed before Watch returns, so no later write is missed.
func (r *Redis) Watch(ctx context.Context, key string) (<-chan Change, error) {
	ps := r.redis.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make(chan Change, watchBuffer)
	msgs := ps.Channel()

	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					r.logger.Warn("storage: dropping malformed change", "channel", msg.Channel, "err", err)
					continue
				}
				if c.Origin == r.origin {
					continue
				}
				if key != "" && c.Key != key {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
