package paystate

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares the status cache between instances.
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{Client: client, TTL: ttl, Prefix: "paystatus:"}
}

func (c *RedisCache) key(paymentID int64) string {
	return c.Prefix + strconv.FormatInt(paymentID, 10)
}

func (c *RedisCache) Get(ctx context.Context, paymentID int64) (Status, bool, error) {
	raw, err := c.Client.Get(ctx, c.key(paymentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, err
	}
	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return Status{}, false, err
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, paymentID int64, s Status) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, c.key(paymentID), raw, c.TTL).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, paymentID int64) error {
	return c.Client.Del(ctx, c.key(paymentID)).Err()
}

// RedisThrottle reserves the query slot with SET NX so bursts across
// instances still make a single provider call.
type RedisThrottle struct {
	Client *redis.Client
	Window time.Duration
	Prefix string
}

func NewRedisThrottle(client *redis.Client, window time.Duration) *RedisThrottle {
	return &RedisThrottle{Client: client, Window: window, Prefix: "mpesa:query:"}
}

func (t *RedisThrottle) Reserve(ctx context.Context, key string) (bool, time.Duration, error) {
	k := t.Prefix + key
	ok, err := t.Client.SetNX(ctx, k, time.Now().Unix(), t.Window).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}
	remaining, err := t.Client.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, err
	}
	if remaining < 0 {
		remaining = t.Window
	}
	return false, remaining, nil
}
