package distribution

import (
	"context"
	"fmt"
	"time"

	"leadflow/internal/broker"
	"leadflow/internal/constants"
	"leadflow/internal/logger"
	"leadflow/pkg/errors"
	"leadflow/pkg/logging"
	"leadflow/pkg/models"
	"leadflow/pkg/tracing"
)

// AssignmentPublisher announces committed assignments on the output topic.
type AssignmentPublisher struct {
	producer broker.Producer
	topic    string
}

func NewAssignmentPublisher(producer broker.Producer, topic string) *AssignmentPublisher {
	if topic == "" {
		topic = constants.DefaultOutputTopic
	}
	return &AssignmentPublisher{producer: producer, topic: topic}
}

func (p *AssignmentPublisher) PublishAssigned(ctx context.Context, lead Request, result *Result, mode Mode) error {
	traceID := tracing.TraceID(ctx)
	if traceID == "" {
		traceID = logging.GetTraceID(ctx)
	}

	assignedAt := time.Now().UTC()
	envelope, err := models.NewMessageEnvelopeBuilder(models.EventTypeLeadAssigned).
		WithSource(constants.ServiceName).
		WithTimestamp(assignedAt).
		WithTraceID(traceID).
		WithWorkspaceID(lead.WorkspaceID).
		WithPayload(models.LeadAssigned{
			LeadID:      lead.LeadID,
			WorkspaceID: lead.WorkspaceID,
			AssignedTo:  result.AssignedTo,
			RuleID:      result.RuleID,
			RuleName:    result.Rule,
			Mode:        string(mode),
			Reason:      result.Reason,
			AssignedAt:  assignedAt,
		}).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build lead assigned event: %w", err)
	}

	return p.producer.Publish(ctx, p.topic, *envelope)
}

type distributor interface {
	Distribute(ctx context.Context, req Request) (*Result, error)
}

// LeadEventHandler runs a distribution attempt for every lead_created event.
// Business outcomes are acknowledged; infrastructure failures are returned so
// the consumer retries the message.
type LeadEventHandler struct {
	engine distributor
	logger logger.Logger
}

func NewLeadEventHandler(engine distributor, log logger.Logger) *LeadEventHandler {
	return &LeadEventHandler{engine: engine, logger: log}
}

func (h *LeadEventHandler) HandleLeadCreated(ctx context.Context, envelope models.MessageEnvelope) error {
	if envelope.Type != models.EventTypeLeadCreated {
		return nil
	}
	ctx = logging.WithMessageID(ctx, envelope.ID)

	var event models.LeadCreated
	if err := envelope.DecodePayload(&event); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to unmarshal lead created event", "error", err)
		return errors.ErrValidation.WithCause(err).WithDetail("message", "malformed lead created event")
	}
	if err := models.ValidateLeadCreated(&event); err != nil {
		return errors.ErrValidation.WithCause(err).WithDetail("message", err.Error())
	}

	result, err := h.engine.Distribute(ctx, Request{
		LeadID:      event.LeadID,
		WorkspaceID: event.WorkspaceID,
		PipelineID:  event.PipelineID,
		Source:      event.Source,
		Tags:        event.Tags,
	})
	if err != nil {
		return err
	}

	if !result.Success {
		h.logger.DebugwCtx(ctx, "Lead left unassigned", "outcome", result.Outcome)
	}
	return nil
}
