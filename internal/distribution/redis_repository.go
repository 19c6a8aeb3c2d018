package distribution

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"leadflow/internal/constants"
)

// RedisRepository provides the counter guard and the open-leads cache.
type RedisRepository struct {
	client       redis.UniversalClient
	guardTTL     time.Duration
	openLeadsTTL time.Duration
}

func NewRedisRepository(client redis.UniversalClient, guardTTL, openLeadsTTL time.Duration) *RedisRepository {
	if guardTTL <= 0 {
		guardTTL = constants.DefaultCounterGuardTTL
	}
	return &RedisRepository{client: client, guardTTL: guardTTL, openLeadsTTL: openLeadsTTL}
}

func guardKey(memberID, leadID string) string {
	return constants.CacheKeyPrefixCounterGuard + memberID + ":" + leadID
}

func openLeadsKey(workspaceID, userID string) string {
	return constants.CacheKeyPrefixOpenLeads + workspaceID + ":" + userID
}

func (r *RedisRepository) Acquire(ctx context.Context, memberID, leadID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, guardKey(memberID, leadID), 1, r.guardTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return ok, nil
}

func (r *RedisRepository) Release(ctx context.Context, memberID, leadID string) error {
	if err := r.client.Del(ctx, guardKey(memberID, leadID)).Err(); err != nil {
		return fmt.Errorf("redis Del failed: %w", err)
	}
	return nil
}

func (r *RedisRepository) GetOpenLeads(ctx context.Context, workspaceID, userID string) (int, bool, error) {
	val, err := r.client.Get(ctx, openLeadsKey(workspaceID, userID)).Result()
	if stderrors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis Get failed: %w", err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("invalid cached open lead count %q: %w", val, err)
	}
	return n, true, nil
}

// SetOpenLeads is a no-op when the cache TTL is zero.
func (r *RedisRepository) SetOpenLeads(ctx context.Context, workspaceID, userID string, count int) error {
	if r.openLeadsTTL <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, openLeadsKey(workspaceID, userID), count, r.openLeadsTTL).Err(); err != nil {
		return fmt.Errorf("redis Set failed: %w", err)
	}
	return nil
}

func (r *RedisRepository) InvalidateOpenLeads(ctx context.Context, workspaceID, userID string) error {
	if err := r.client.Del(ctx, openLeadsKey(workspaceID, userID)).Err(); err != nil {
		return fmt.Errorf("redis Del failed: %w", err)
	}
	return nil
}
