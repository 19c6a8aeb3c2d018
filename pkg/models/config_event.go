package models

import "time"

// ConfigUpdateEvent is emitted by the rule management surface whenever a
// distribution rule or its member roster changes.
type ConfigUpdateEvent struct {
	EventType   string                 `json:"event_type"`
	WorkspaceID string                 `json:"workspace_id"`
	RuleID      string                 `json:"rule_id,omitempty"`
	Action      string                 `json:"action"`
	Timestamp   time.Time              `json:"timestamp"`
	ChangedBy   string                 `json:"changed_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeDistributionRuleUpdated   = "distribution_rule_updated"
	EventTypeDistributionMemberUpdated = "distribution_member_updated"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionToggle = "toggle"
	ActionReload = "reload"
)
