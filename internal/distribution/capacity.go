package distribution

import (
	"context"

	"leadflow/internal/logger"
	"leadflow/pkg/metrics"
)

// OpenLeadCounter returns how many open leads a user currently owns.
type OpenLeadCounter interface {
	Count(ctx context.Context, userID string) (int, error)
}

// attemptCounter memoizes open-lead counts for the lifetime of one attempt so
// the capacity check and least-loaded selection see the same numbers.
type attemptCounter struct {
	workspaceID string
	count       func(ctx context.Context, workspaceID, userID string) (int, error)
	cache       OpenLeadsCache
	logger      logger.Logger
	memo        map[string]int
}

func newAttemptCounter(workspaceID string, count func(ctx context.Context, workspaceID, userID string) (int, error), cache OpenLeadsCache, log logger.Logger) *attemptCounter {
	return &attemptCounter{
		workspaceID: workspaceID,
		count:       count,
		cache:       cache,
		logger:      log,
		memo:        make(map[string]int),
	}
}

func (c *attemptCounter) Count(ctx context.Context, userID string) (int, error) {
	if n, ok := c.memo[userID]; ok {
		return n, nil
	}

	if c.cache != nil {
		n, hit, err := c.cache.GetOpenLeads(ctx, c.workspaceID, userID)
		switch {
		case err != nil:
			c.logger.WarnwCtx(ctx, "Open leads cache read failed, falling back to lead store",
				"user_id", userID,
				"error", err,
			)
		case hit:
			metrics.IncOpenLeadsCache(true)
			c.memo[userID] = n
			return n, nil
		default:
			metrics.IncOpenLeadsCache(false)
		}
	}

	n, err := c.count(ctx, c.workspaceID, userID)
	if err != nil {
		return 0, err
	}
	c.memo[userID] = n

	if c.cache != nil {
		if err := c.cache.SetOpenLeads(ctx, c.workspaceID, userID, n); err != nil {
			c.logger.WarnwCtx(ctx, "Open leads cache write failed", "user_id", userID, "error", err)
		}
	}
	return n, nil
}

// activeMembers keeps roster order.
func activeMembers(members []Member) []Member {
	active := make([]Member, 0, len(members))
	for _, m := range members {
		if m.IsActive {
			active = append(active, m)
		}
	}
	return active
}

// filterByCapacity drops members at any of their caps. Open leads are only
// counted for members that set MaxOpenLeads.
func filterByCapacity(ctx context.Context, members []Member, counter OpenLeadCounter) ([]Member, error) {
	eligible := make([]Member, 0, len(members))
	for _, m := range members {
		if m.MaxLeadsPerDay != nil && m.LeadsAssignedToday >= *m.MaxLeadsPerDay {
			continue
		}
		if m.MaxLeadsPerHour != nil && m.LeadsAssignedHour >= *m.MaxLeadsPerHour {
			continue
		}
		if m.MaxOpenLeads != nil {
			open, err := counter.Count(ctx, m.UserID)
			if err != nil {
				return nil, err
			}
			if open >= *m.MaxOpenLeads {
				continue
			}
		}
		eligible = append(eligible, m)
	}
	return eligible, nil
}
