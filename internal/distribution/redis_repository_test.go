package distribution

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/config"
	"leadflow/pkg/circuitbreaker"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisRepository_Guard(t *testing.T) {
	mr, client := setupRedis(t)
	repo := NewRedisRepository(client, time.Hour, time.Minute)
	ctx := context.Background()

	first, err := repo.Acquire(ctx, "m1", "lead-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := repo.Acquire(ctx, "m1", "lead-1")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := repo.Acquire(ctx, "m1", "lead-2")
	require.NoError(t, err)
	assert.True(t, other)

	assert.True(t, mr.Exists("dist:counted:m1:lead-1"))
	assert.Equal(t, time.Hour, mr.TTL("dist:counted:m1:lead-1"))

	require.NoError(t, repo.Release(ctx, "m1", "lead-1"))
	first, err = repo.Acquire(ctx, "m1", "lead-1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRedisRepository_GuardExpires(t *testing.T) {
	mr, client := setupRedis(t)
	repo := NewRedisRepository(client, time.Minute, time.Minute)
	ctx := context.Background()

	_, err := repo.Acquire(ctx, "m1", "lead-1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	first, err := repo.Acquire(ctx, "m1", "lead-1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRedisRepository_OpenLeads(t *testing.T) {
	mr, client := setupRedis(t)
	repo := NewRedisRepository(client, 0, 30*time.Second)
	ctx := context.Background()

	_, hit, err := repo.GetOpenLeads(ctx, "ws-1", "alice")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, repo.SetOpenLeads(ctx, "ws-1", "alice", 7))
	n, hit, err := repo.GetOpenLeads(ctx, "ws-1", "alice")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 7, n)
	assert.Equal(t, 30*time.Second, mr.TTL("dist:open_leads:ws-1:alice"))

	require.NoError(t, repo.InvalidateOpenLeads(ctx, "ws-1", "alice"))
	_, hit, err = repo.GetOpenLeads(ctx, "ws-1", "alice")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, mr.Set("dist:open_leads:ws-1:bob", "not-a-number"))
	_, _, err = repo.GetOpenLeads(ctx, "ws-1", "bob")
	assert.Error(t, err)
}

func TestRedisRepository_OpenLeadsCacheDisabled(t *testing.T) {
	mr, client := setupRedis(t)
	repo := NewRedisRepository(client, 0, 0)

	require.NoError(t, repo.SetOpenLeads(context.Background(), "ws-1", "alice", 3))
	assert.False(t, mr.Exists("dist:open_leads:ws-1:alice"))
}

func TestRedisRepository_ServerDown(t *testing.T) {
	mr, client := setupRedis(t)
	repo := NewRedisRepository(client, time.Hour, time.Minute)
	mr.Close()

	_, err := repo.Acquire(context.Background(), "m1", "lead-1")
	assert.Error(t, err)
	_, _, err = repo.GetOpenLeads(context.Background(), "ws-1", "alice")
	assert.Error(t, err)
}

func TestCircuitBreakerRepository_Disabled(t *testing.T) {
	_, client := setupRedis(t)
	repo := NewCircuitBreakerRepository(NewRedisRepository(client, time.Hour, time.Minute), config.CircuitBreakerConfig{})

	assert.Equal(t, "disabled", repo.State())
	assert.False(t, repo.IsOpen())

	ok, err := repo.Acquire(context.Background(), "m1", "lead-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCircuitBreakerRepository_OpensOnFailures(t *testing.T) {
	mr, client := setupRedis(t)
	repo := NewCircuitBreakerRepository(NewRedisRepository(client, time.Hour, time.Minute), config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})
	ctx := context.Background()

	require.NoError(t, repo.SetOpenLeads(ctx, "ws-1", "alice", 2))
	n, hit, err := repo.GetOpenLeads(ctx, "ws-1", "alice")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 2, n)
	assert.Equal(t, "closed", repo.State())

	mr.Close()
	for i := 0; i < 3; i++ {
		_, _ = repo.Acquire(ctx, "m1", "lead-1")
	}
	assert.True(t, repo.IsOpen())

	_, err = repo.Acquire(ctx, "m1", "lead-2")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	_, _, err = repo.GetOpenLeads(ctx, "ws-1", "alice")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}
