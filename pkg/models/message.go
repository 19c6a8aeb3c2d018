package models

import (
	"encoding/json"
	"time"
)

const (
	EventTypeLeadCreated  = "lead_created"
	EventTypeLeadAssigned = "lead_assigned"
)

type MessageEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  Metadata        `json:"metadata"`
}

type Metadata struct {
	TraceID     string `json:"trace_id,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// LeadCreated is published by the lead store when a lead enters the CRM.
type LeadCreated struct {
	LeadID      string   `json:"lead_id"`
	WorkspaceID string   `json:"workspace_id"`
	PipelineID  string   `json:"pipeline_id,omitempty"`
	Source      string   `json:"source,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// LeadAssigned announces a committed assignment.
type LeadAssigned struct {
	LeadID      string    `json:"lead_id"`
	WorkspaceID string    `json:"workspace_id"`
	AssignedTo  string    `json:"assigned_to"`
	RuleID      string    `json:"rule_id"`
	RuleName    string    `json:"rule_name"`
	Mode        string    `json:"mode"`
	Reason      string    `json:"reason"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// DecodePayload unmarshals the envelope payload into v.
func (msg *MessageEnvelope) DecodePayload(v interface{}) error {
	return json.Unmarshal(msg.Payload, v)
}
