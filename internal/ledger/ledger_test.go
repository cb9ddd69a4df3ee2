package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisLedger on it
func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisLedger, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLedger(client, ttl), mr
}

func TestRedisLedger_ClaimOnce(t *testing.T) {
	l, mr := setupTestRedis(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, l.Claim(ctx, "RPN-1"))
	assert.ErrorIs(t, l.Claim(ctx, "RPN-1"), ErrAlreadyClaimed)
	assert.True(t, mr.Exists(claimKey("RPN-1")))
	assert.Equal(t, time.Hour, mr.TTL(claimKey("RPN-1")))

	ok, err := l.Claimed(ctx, "RPN-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Claim(ctx, "RPN-2"), "other orders are independent")
}

func TestRedisLedger_ReleaseAllowsReclaim(t *testing.T) {
	l, _ := setupTestRedis(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, l.Claim(ctx, "RPN-1"))
	require.NoError(t, l.Release(ctx, "RPN-1"))
	ok, err := l.Claimed(ctx, "RPN-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, l.Claim(ctx, "RPN-1"))
}

func TestRedisLedger_ClaimExpires(t *testing.T) {
	l, mr := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Claim(ctx, "RPN-1"))
	mr.FastForward(2 * time.Minute)
	assert.NoError(t, l.Claim(ctx, "RPN-1"))
}

func TestRedisLedger_ServerError(t *testing.T) {
	l, mr := setupTestRedis(t, time.Minute)
	mr.SetError("LOADING redis is loading the dataset")
	err := l.Claim(context.Background(), "RPN-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyClaimed)
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	l := NewMemoryLedger(time.Minute)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Claim(ctx, "RPN-1"))
	assert.ErrorIs(t, l.Claim(ctx, "RPN-1"), ErrAlreadyClaimed)

	now = now.Add(time.Minute)
	ok, _ := l.Claimed(ctx, "RPN-1")
	assert.False(t, ok, "claim should expire at its ttl")

	require.NoError(t, l.Claim(ctx, "RPN-1"))
	require.NoError(t, l.Release(ctx, "RPN-1"))
	assert.NoError(t, l.Claim(ctx, "RPN-1"))
}
