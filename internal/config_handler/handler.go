package config_handler

import (
	"context"

	"leadflow/internal/logger"
	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

// RuleInvalidator drops cached rule configuration.
type RuleInvalidator interface {
	Invalidate(workspaceID string)
	InvalidateAll()
}

// Handler reacts to rule or member change events by invalidating cached rules
// so the next distribution attempt reads fresh configuration.
type Handler struct {
	eventTypes  map[string]struct{}
	invalidator RuleInvalidator
	logger      logger.Logger
}

func NewHandler(invalidator RuleInvalidator, log logger.Logger, eventTypes ...string) *Handler {
	if len(eventTypes) == 0 {
		eventTypes = []string{
			models.EventTypeDistributionRuleUpdated,
			models.EventTypeDistributionMemberUpdated,
		}
	}

	types := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}

	return &Handler{
		eventTypes:  types,
		invalidator: invalidator,
		logger:      log,
	}
}

func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope models.MessageEnvelope) error {
	var event models.ConfigUpdateEvent
	if err := envelope.DecodePayload(&event); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to unmarshal config event", "error", err, "id", envelope.ID)
		return errors.ErrValidation.WithCause(err).WithDetail("message", "malformed config update event")
	}

	if event.EventType == "" {
		h.logger.WarnwCtx(ctx, "Config event missing event_type", "id", envelope.ID)
		return nil
	}

	if _, ok := h.eventTypes[event.EventType]; !ok {
		return nil
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"action", event.Action,
		"workspace_id", event.WorkspaceID,
		"rule_id", event.RuleID,
	)

	if event.WorkspaceID == "" || event.Action == models.ActionReload {
		h.invalidator.InvalidateAll()
		return nil
	}

	h.invalidator.Invalidate(event.WorkspaceID)
	return nil
}
