package distribution

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadflow/internal/logger"
	"leadflow/pkg/errors"
	"leadflow/pkg/metrics"
	"leadflow/pkg/retry"
)

// Committer applies a selection as a saga: cursor, counters, log, then the
// lead assignee. Later steps never run when an earlier one fails, and the
// assignee write, being the one users see, goes last.
type Committer struct {
	cursors       CursorStore
	counters      CounterStore
	guard         CounterGuard
	logs          LogStore
	leads         LeadStore
	openLeads     OpenLeadsCache
	publisher     EventPublisher
	assigneeRetry retry.Policy
	storeTimeout  time.Duration
	now           func() time.Time
	logger        logger.Logger
}

func (c *Committer) Commit(ctx context.Context, req Request, rule Rule, sel Selection) (*Result, error) {
	now := c.now()

	if sel.HasCursor {
		err := storeCall(ctx, c.storeTimeout, "rules.cursor_cas", func(ctx context.Context) error {
			return c.cursors.CompareAndSwapCursor(ctx, rule.ID, sel.PrevCursor, sel.NextCursor)
		})
		if err != nil {
			return nil, err
		}
	}

	// Past this point the attempt runs to completion even if the caller goes
	// away. Every store call keeps its own timeout.
	ctx = context.WithoutCancel(ctx)

	if err := c.incrementCounters(ctx, req.LeadID, sel.Member.ID, now); err != nil {
		c.compensationNeeded(ctx, "counters", rule, sel, err)
		return nil, err
	}

	entry := Log{
		ID:             uuid.NewString(),
		WorkspaceID:    req.WorkspaceID,
		LeadID:         req.LeadID,
		RuleID:         rule.ID,
		AssignedUserID: sel.Member.UserID,
		Source:         req.Source,
		PipelineID:     req.PipelineID,
		Mode:           rule.Mode,
		Reason:         sel.Reason,
		IdempotencyKey: IdempotencyKey(req.LeadID, rule.ID, now),
		CreatedAt:      now,
	}
	if err := storeCall(ctx, c.storeTimeout, "logs.append", func(ctx context.Context) error {
		return c.logs.AppendLog(ctx, entry)
	}); err != nil {
		c.compensationNeeded(ctx, "log", rule, sel, err)
		return nil, err
	}

	if err := c.setAssignee(ctx, req.LeadID, sel.Member.UserID); err != nil {
		c.compensationNeeded(ctx, "assignee", rule, sel, err)
		return nil, err
	}

	result := &Result{
		Success:    true,
		AssignedTo: sel.Member.UserID,
		Rule:       rule.Name,
		RuleID:     rule.ID,
		Mode:       rule.Mode,
		Reason:     sel.Reason,
		Outcome:    OutcomeAssigned,
	}

	c.afterCommit(ctx, req, result, rule.Mode, sel.Member.UserID)
	return result, nil
}

func (c *Committer) incrementCounters(ctx context.Context, leadID, memberID string, now time.Time) error {
	first, err := c.guard.Acquire(ctx, memberID, leadID)
	if err != nil {
		// Without the guard a replayed attempt may double count; caps are soft.
		c.logger.WarnwCtx(ctx, "Counter guard unavailable, incrementing unguarded",
			"member_id", memberID,
			"error", err,
		)
		first = true
	}
	if !first {
		c.logger.InfowCtx(ctx, "Counters already incremented for lead, skipping", "member_id", memberID)
		return nil
	}

	err = storeCall(ctx, c.storeTimeout, "members.increment_counters", func(ctx context.Context) error {
		return c.counters.IncrementCounters(ctx, memberID, now)
	})
	if err != nil {
		if relErr := c.guard.Release(ctx, memberID, leadID); relErr != nil {
			c.logger.WarnwCtx(ctx, "Failed to release counter guard", "member_id", memberID, "error", relErr)
		}
		return err
	}
	return nil
}

func (c *Committer) setAssignee(ctx context.Context, leadID, userID string) error {
	return retry.DoNotify(ctx, c.assigneeRetry, func(ctx context.Context) error {
		err := storeCall(ctx, c.storeTimeout, "leads.set_assignee", func(ctx context.Context) error {
			return c.leads.SetAssignee(ctx, leadID, userID)
		})
		if errors.IsNotFound(err) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		metrics.IncRetryAttempt("distribution", "set_assignee")
		c.logger.WarnwCtx(ctx, "Retrying assignee write",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
}

// afterCommit runs best-effort side effects; failures are logged only.
func (c *Committer) afterCommit(ctx context.Context, req Request, result *Result, mode Mode, userID string) {
	if c.openLeads != nil {
		if err := c.openLeads.InvalidateOpenLeads(ctx, req.WorkspaceID, userID); err != nil {
			c.logger.WarnwCtx(ctx, "Failed to invalidate open leads cache", "user_id", userID, "error", err)
		}
	}

	if err := c.publisher.PublishAssigned(ctx, req, result, mode); err != nil {
		c.logger.WarnwCtx(ctx, "Failed to publish lead assigned event", "error", err)
	}
}

func (c *Committer) compensationNeeded(ctx context.Context, step string, rule Rule, sel Selection, err error) {
	metrics.IncCompensation(step)
	c.logger.ErrorwCtx(ctx, "Commit step failed after earlier steps were applied",
		"step", step,
		"rule_id", rule.ID,
		"member_id", sel.Member.ID,
		"cursor_advanced", sel.HasCursor,
		"error", err,
	)
}

// IdempotencyKey identifies a log row for a lead and rule within a one-minute bucket.
func IdempotencyKey(leadID, ruleID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", leadID, ruleID, at.UTC().Truncate(time.Minute).Unix())
}

// storeCall runs fn under the store timeout and classifies its failure.
func storeCall(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	_, err := storeQuery(ctx, timeout, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func storeQuery[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	v, err := fn(ctx)
	if err == nil {
		return v, nil
	}

	switch {
	case stderrors.Is(err, ErrCursorConflict):
		return v, err
	case stderrors.Is(err, ErrLeadNotFound):
		return v, errors.ErrNotFound.WithCause(err).WithDetail("operation", op)
	default:
		return v, errors.Infrastructure(op, err)
	}
}
