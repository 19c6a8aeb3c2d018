package distribution

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"leadflow/pkg/errors"
	"leadflow/pkg/logging"
	"leadflow/pkg/metrics"
	"leadflow/pkg/tracing"
)

// Batch triggers, used as a metrics label.
const (
	TriggerAPI       = "api"
	TriggerScheduler = "scheduler"
	TriggerCLI       = "cli"
)

type triggerKey struct{}

// WithTrigger tags ctx with what started a batch run.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func TriggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return TriggerAPI
}

// RedistributeUnassigned runs the engine over the workspace's unassigned
// leads, oldest first, one at a time. A failing lead is recorded and the run
// continues. If ctx ends between leads the partial result is returned along
// with ctx.Err().
func (s *Service) RedistributeUnassigned(ctx context.Context, workspaceID string, limit int) (*BatchResult, error) {
	if workspaceID == "" {
		return nil, errors.ErrValidation.WithDetail("message", "workspace_id is required")
	}
	limit = s.batchLimit(limit)

	ctx = logging.WithLead(ctx, workspaceID, "")
	ctx, span := tracing.StartSpan(ctx, "distribution.redistribute",
		attribute.String("workspace_id", workspaceID),
		attribute.Int("limit", limit),
	)
	trigger := TriggerFrom(ctx)

	result := &BatchResult{Outcomes: make(map[Outcome]int), Failures: []LeadFailure{}}

	leads, err := storeQuery(ctx, s.storeTimeout, "leads.list_unassigned", func(ctx context.Context) ([]Lead, error) {
		return s.leads.ListUnassignedLeads(ctx, workspaceID, limit)
	})
	if err != nil {
		tracing.EndSpan(span, err)
		metrics.ObserveBatch(trigger, "error", 0)
		s.logger.ErrorwCtx(ctx, "Failed to list unassigned leads", "error", err)
		return nil, err
	}

	start := time.Now()
	for _, lead := range leads {
		if err := ctx.Err(); err != nil {
			s.logger.WarnwCtx(ctx, "Batch redistribution interrupted",
				"attempted", result.Attempted,
				"distributed", result.Distributed,
				"remaining", len(leads)-result.Attempted,
			)
			tracing.EndSpan(span, err)
			metrics.ObserveBatch(trigger, "cancelled", result.Distributed)
			return result, err
		}
		s.redistributeOne(ctx, lead, result)
	}

	span.SetAttributes(
		attribute.Int("attempted", result.Attempted),
		attribute.Int("distributed", result.Distributed),
	)
	tracing.EndSpan(span, nil)
	metrics.ObserveBatch(trigger, "success", result.Distributed)
	s.logger.InfowCtx(ctx, "Batch redistribution finished",
		"trigger", trigger,
		"attempted", result.Attempted,
		"distributed", result.Distributed,
		"failures", len(result.Failures),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// redistributeOne detaches the attempt from batch cancellation so a stopped
// run never abandons a lead mid-commit; the per-lead timeout still bounds it.
func (s *Service) redistributeOne(ctx context.Context, lead Lead, result *BatchResult) {
	leadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.batch.LeadTimeout)
	defer cancel()

	result.Attempted++
	res, err := s.Distribute(leadCtx, Request{
		LeadID:      lead.ID,
		WorkspaceID: lead.WorkspaceID,
		PipelineID:  lead.PipelineID,
		Source:      lead.Source,
		Tags:        lead.Tags,
	})
	if err != nil {
		result.Outcomes[OutcomeInfrastructureError]++
		result.Failures = append(result.Failures, LeadFailure{LeadID: lead.ID, Error: err.Error()})
		return
	}

	result.Outcomes[res.Outcome]++
	if res.Success {
		result.Distributed++
	}
}

func (s *Service) batchLimit(limit int) int {
	if limit <= 0 {
		return s.batch.DefaultLimit
	}
	if limit > s.batch.MaxLimit {
		return s.batch.MaxLimit
	}
	return limit
}
