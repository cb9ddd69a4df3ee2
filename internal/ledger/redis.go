package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

// RedisLedger shares claims between agents through Redis, so two counters
// fed by the same topic never print the same order.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func (r *RedisLedger) Claim(ctx context.Context, orderNumber string) error {
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	ok, err := r.client.SetNX(ctx, claimKey(orderNumber), stamp, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return ErrAlreadyClaimed
	}
	return nil
}

func (r *RedisLedger) Release(ctx context.Context, orderNumber string) error {
	if err := r.client.Del(ctx, claimKey(orderNumber)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisLedger) Claimed(ctx context.Context, orderNumber string) (bool, error) {
	n, err := r.client.Exists(ctx, claimKey(orderNumber)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n == 1, nil
}

func claimKey(orderNumber string) string {
	return fmt.Sprintf("receipt:printed:%s", orderNumber)
}
