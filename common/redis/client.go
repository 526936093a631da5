package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with common operations and instrumentation
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.redis.Close()
}

// SetNX sets a key only if it doesn't exist
func (c *Client) SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error) {
	wasSet, err := c.redis.SetNX(ctx, key, value, expiry).Result()
	if err != nil {
		c.logger.Error("redis SETNX failed", "key", key, "error", err)
		return false, fmt.Errorf("failed to setnx key %s: %w", key, err)
	}
	c.logger.Debug("redis SETNX", "key", key, "was_set", wasSet)
	return wasSet, nil
}

// Get retrieves a value by key. Missing keys return "", false.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		c.logger.Error("redis GET failed", "key", key, "error", err)
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, true, nil
}

// compareAndDelete deletes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// compareAndExpire resets the TTL of KEYS[1] only while it still holds ARGV[1].
var compareAndExpire = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// DeleteIfValue removes key only if its value equals value
func (c *Client) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, c.redis, []string{key}, value).Int()
	if err != nil {
		c.logger.Error("redis compare-and-delete failed", "key", key, "error", err)
		return false, fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	c.logger.Debug("redis compare-and-delete", "key", key, "deleted", n == 1)
	return n == 1, nil
}

// ExpireIfValue resets the expiry of key only if its value equals value
func (c *Client) ExpireIfValue(ctx context.Context, key, value string, expiry time.Duration) (bool, error) {
	n, err := compareAndExpire.Run(ctx, c.redis, []string{key}, value, expiry.Milliseconds()).Int()
	if err != nil {
		c.logger.Error("redis compare-and-expire failed", "key", key, "error", err)
		return false, fmt.Errorf("failed to extend key %s: %w", key, err)
	}
	return n == 1, nil
}

// PushToList pushes values to the right of a list
func (c *Client) PushToList(ctx context.Context, key string, values ...interface{}) error {
	err := c.redis.RPush(ctx, key, values...).Err()
	if err != nil {
		c.logger.Error("redis RPUSH failed", "key", key, "error", err)
		return fmt.Errorf("failed to rpush to %s: %w", key, err)
	}
	c.logger.Debug("redis RPUSH", "key", key, "count", len(values))
	return nil
}

// BlockingPopList blocks and pops from a list (left side)
func (c *Client) BlockingPopList(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error) {
	result, err := c.redis.BLPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		// Timeout - not an error
		return nil, nil
	}
	if err != nil {
		c.logger.Error("redis BLPOP failed", "keys", keys, "error", err)
		return nil, fmt.Errorf("failed to blpop from %v: %w", keys, err)
	}
	c.logger.Debug("redis BLPOP", "keys", keys)
	return result, nil
}

// ListLength returns the number of entries in a list
func (c *Client) ListLength(ctx context.Context, key string) (int64, error) {
	n, err := c.redis.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to llen %s: %w", key, err)
	}
	return n, nil
}

// ScheduleAt adds member to a sorted set scored by the given time
func (c *Client) ScheduleAt(ctx context.Context, key, member string, at time.Time) error {
	err := c.redis.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: member}).Err()
	if err != nil {
		c.logger.Error("redis ZADD failed", "key", key, "error", err)
		return fmt.Errorf("failed to zadd to %s: %w", key, err)
	}
	c.logger.Debug("redis ZADD", "key", key, "member", member, "at", at)
	return nil
}

// moveDue atomically moves sorted-set members scored <= ARGV[1] onto a list.
var moveDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
    redis.call('ZREM', KEYS[1], member)
    redis.call('RPUSH', KEYS[2], member)
end
return #due
`)

// MoveDue moves up to limit members of the sorted set whose time has come
// onto the right of the list and returns how many moved
func (c *Client) MoveDue(ctx context.Context, zsetKey, listKey string, now time.Time, limit int) (int, error) {
	n, err := moveDue.Run(ctx, c.redis, []string{zsetKey, listKey}, strconv.FormatInt(now.Unix(), 10), limit).Int()
	if err != nil {
		c.logger.Error("redis move-due failed", "zset", zsetKey, "list", listKey, "error", err)
		return 0, fmt.Errorf("failed to move due members from %s: %w", zsetKey, err)
	}
	if n > 0 {
		c.logger.Debug("redis move-due", "zset", zsetKey, "list", listKey, "moved", n)
	}
	return n, nil
}

// incrWindow counts hits in a fixed window that starts with the first hit.
var incrWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// IncrWindow increments the counter at key, starting a window of the given
// length on the first hit, and returns the count and the time left
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrWindow.Run(ctx, c.redis, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		c.logger.Error("redis incr-window failed", "key", key, "error", err)
		return 0, 0, fmt.Errorf("failed to count hits on %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected incr-window reply for %s: %v", key, res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// PublishEvent publishes an event to a Redis channel
func (c *Client) PublishEvent(ctx context.Context, channel string, message string) error {
	err := c.redis.Publish(ctx, channel, message).Err()
	if err != nil {
		c.logger.Error("redis PUBLISH failed", "channel", channel, "error", err)
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	c.logger.Debug("redis PUBLISH", "channel", channel)
	return nil
}
