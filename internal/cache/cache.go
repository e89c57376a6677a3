// Package cache is an advisory Redis layer: a queue-depth hint and a
// cross-instance pause flag, never a correctness dependency per spec.md §5
// ("the Store remains the single source of truth; Redis, if present, is an
// optimization only"). Every operation degrades to a no-op on error.
// Grounded in the teacher's RedisStore client setup and Set/Get/SetNX usage
// (control_plane/store/redis.go).
package cache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueDepthKey = "smsgateway:queue_depth"
	pauseKey      = "smsgateway:paused"
)

// Cache wraps a redis client. A nil *Cache (Connect failed, or Redis was
// not configured) is safe to call: every method becomes a no-op.
type Cache struct {
	client *redis.Client
	log    *slog.Logger
}

// Connect dials addr and pings it once. A dial or ping failure is logged
// and returns a nil *Cache rather than an error, since the cache is purely
// advisory and the gateway must start without it.
func Connect(addr string, log *slog.Logger) *Cache {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("advisory cache unavailable, continuing without it", "error", err)
		return nil
	}
	return &Cache{client: client, log: log}
}

// SetQueueDepthHint publishes a best-effort queue-depth snapshot for other
// gateway instances to read without hitting the Store.
func (c *Cache) SetQueueDepthHint(ctx context.Context, depth int) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, queueDepthKey, depth, 30*time.Second).Err(); err != nil {
		c.log.Debug("cache set queue depth hint failed", "error", err)
	}
}

// QueueDepthHint returns the last published hint, or ok=false if unavailable.
func (c *Cache) QueueDepthHint(ctx context.Context) (depth int, ok bool) {
	if c == nil {
		return 0, false
	}
	val, err := c.client.Get(ctx, queueDepthKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug("cache get queue depth hint failed", "error", err)
		}
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SetPauseFlag stores a cross-instance pause flag that PauseFlag reads back.
// Nothing in the gateway sets or polls it; pausing dispatch is done by each
// instance's own Dispatcher.Pause/Resume call.
func (c *Cache) SetPauseFlag(ctx context.Context, paused bool) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, pauseKey, paused, 0).Err(); err != nil {
		c.log.Debug("cache set pause flag failed", "error", err)
	}
}

func (c *Cache) PauseFlag(ctx context.Context) (paused, ok bool) {
	if c == nil {
		return false, false
	}
	val, err := c.client.Get(ctx, pauseKey).Bool()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug("cache get pause flag failed", "error", err)
		}
		return false, false
	}
	return val, true
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
