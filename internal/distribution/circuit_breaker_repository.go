package distribution

import (
	"context"
	"fmt"

	"leadflow/internal/config"
	"leadflow/pkg/circuitbreaker"
)

type redisStore interface {
	CounterGuard
	OpenLeadsCache
}

// CircuitBreakerRepository guards the Redis stores. While the breaker is open
// calls fail fast; the engine treats both stores as optional, so an open
// breaker degrades to unguarded counters and uncached counts.
type CircuitBreakerRepository struct {
	repo redisStore
	cb   *circuitbreaker.Breaker
}

func NewCircuitBreakerRepository(repo redisStore, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{repo: repo}
	}

	cbConfig := circuitbreaker.DefaultConfig("redis-distribution")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 {
		cbConfig.FailureRatio = cfg.FailureRatio
	}
	if cfg.MinRequests > 0 {
		cbConfig.MinRequests = cfg.MinRequests
	}

	return &CircuitBreakerRepository{repo: repo, cb: circuitbreaker.New(cbConfig)}
}

func (r *CircuitBreakerRepository) Acquire(ctx context.Context, memberID, leadID string) (bool, error) {
	if r.cb == nil {
		return r.repo.Acquire(ctx, memberID, leadID)
	}
	return circuitbreaker.Execute(ctx, r.cb, func(ctx context.Context) (bool, error) {
		return r.repo.Acquire(ctx, memberID, leadID)
	})
}

func (r *CircuitBreakerRepository) Release(ctx context.Context, memberID, leadID string) error {
	if r.cb == nil {
		return r.repo.Release(ctx, memberID, leadID)
	}
	return r.cb.Run(ctx, func(ctx context.Context) error {
		return r.repo.Release(ctx, memberID, leadID)
	})
}

type openLeadsHit struct {
	count int
	hit   bool
}

func (r *CircuitBreakerRepository) GetOpenLeads(ctx context.Context, workspaceID, userID string) (int, bool, error) {
	if r.cb == nil {
		return r.repo.GetOpenLeads(ctx, workspaceID, userID)
	}
	res, err := circuitbreaker.Execute(ctx, r.cb, func(ctx context.Context) (openLeadsHit, error) {
		n, hit, err := r.repo.GetOpenLeads(ctx, workspaceID, userID)
		return openLeadsHit{count: n, hit: hit}, err
	})
	if err != nil {
		return 0, false, fmt.Errorf("open leads cache: %w", err)
	}
	return res.count, res.hit, nil
}

func (r *CircuitBreakerRepository) SetOpenLeads(ctx context.Context, workspaceID, userID string, count int) error {
	if r.cb == nil {
		return r.repo.SetOpenLeads(ctx, workspaceID, userID, count)
	}
	return r.cb.Run(ctx, func(ctx context.Context) error {
		return r.repo.SetOpenLeads(ctx, workspaceID, userID, count)
	})
}

func (r *CircuitBreakerRepository) InvalidateOpenLeads(ctx context.Context, workspaceID, userID string) error {
	if r.cb == nil {
		return r.repo.InvalidateOpenLeads(ctx, workspaceID, userID)
	}
	return r.cb.Run(ctx, func(ctx context.Context) error {
		return r.repo.InvalidateOpenLeads(ctx, workspaceID, userID)
	})
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	if r.cb == nil {
		return false
	}
	return r.cb.IsOpen()
}
