package distribution

import (
	"context"
	"time"
)

type RuleStore interface {
	// ListActiveRules returns the workspace's active rules ordered by priority
	// descending, then creation time ascending.
	ListActiveRules(ctx context.Context, workspaceID string) ([]Rule, error)
}

type MemberStore interface {
	// ListActiveMembers returns every member of the rule in roster order.
	// Inactive members are filtered by the capacity stage.
	ListActiveMembers(ctx context.Context, ruleID string) ([]Member, error)
}

type LeadStore interface {
	CountOpenLeadsForUser(ctx context.Context, workspaceID, userID string) (int, error)
	SetAssignee(ctx context.Context, leadID, userID string) error
	ListUnassignedLeads(ctx context.Context, workspaceID string, limit int) ([]Lead, error)
}

type LogStore interface {
	// AppendLog is idempotent on Log.IdempotencyKey.
	AppendLog(ctx context.Context, entry Log) error
	ListLogs(ctx context.Context, workspaceID string, limit int) ([]Log, error)
}

type CounterStore interface {
	IncrementCounters(ctx context.Context, memberID string, at time.Time) error
	ResetHourlyCounters(ctx context.Context) (int64, error)
	ResetDailyCounters(ctx context.Context) (int64, error)
}

type CursorStore interface {
	LoadCursor(ctx context.Context, ruleID string) (int, error)
	// CompareAndSwapCursor stores next only if the cursor still equals prev,
	// returning ErrCursorConflict otherwise.
	CompareAndSwapCursor(ctx context.Context, ruleID string, prev, next int) error
}

// CounterGuard makes counter increments idempotent per (member, lead).
type CounterGuard interface {
	// Acquire reports whether this is the first increment for the pair.
	Acquire(ctx context.Context, memberID, leadID string) (bool, error)
	Release(ctx context.Context, memberID, leadID string) error
}

// OpenLeadsCache memoizes CountOpenLeadsForUser across attempts.
type OpenLeadsCache interface {
	GetOpenLeads(ctx context.Context, workspaceID, userID string) (int, bool, error)
	SetOpenLeads(ctx context.Context, workspaceID, userID string, count int) error
	InvalidateOpenLeads(ctx context.Context, workspaceID, userID string) error
}

// EventPublisher announces committed assignments.
type EventPublisher interface {
	PublishAssigned(ctx context.Context, lead Request, result *Result, mode Mode) error
}

type noopGuard struct{}

func (noopGuard) Acquire(context.Context, string, string) (bool, error) { return true, nil }
func (noopGuard) Release(context.Context, string, string) error         { return nil }

type noopPublisher struct{}

func (noopPublisher) PublishAssigned(context.Context, Request, *Result, Mode) error { return nil }
