package ratelimit

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*Redis)(nil)

// fixedWindow increments the counter and starts the window on first use.
// It returns the new count and the remaining TTL in milliseconds.
var fixedWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Redis is a Store shared by every gateway instance using the same server.
// Rejected requests also increment the counter; the window still expires
// on schedule so the key recovers after Window.
type Redis struct {
	cfg    Config
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedis creates a Redis-backed Store. Keys are namespaced by prefix.
func NewRedis(client redis.Scripter, prefix string, cfg Config) *Redis {
	if prefix == "" {
		prefix = "checkout:ratelimit:"
	}
	return &Redis{
		cfg:    cfg.withDefaults(),
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Allow records a request for key.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindow.Run(ctx, r.client, []string{r.prefix + key}, r.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrap(err, "run rate limit script")
	}
	if len(res) != 2 {
		return Decision{}, errors.Errorf("unexpected rate limit script result %v", res)
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	return Decision{
		Allowed:   count <= r.cfg.Max,
		Limit:     r.cfg.Max,
		Remaining: max(r.cfg.Max-count, 0),
		ResetAt:   r.now().Add(ttl),
	}, nil
}
