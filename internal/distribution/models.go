package distribution

import (
	"time"
)

// Mode names the allocation strategy a rule uses.
type Mode string

const (
	ModeRoundRobin     Mode = "round_robin"
	ModePercentage     Mode = "percentage"
	ModeLeastLoaded    Mode = "least_loaded"
	ModeFixed          Mode = "fixed"
	ModeWeightedRandom Mode = "weighted_random"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeRoundRobin, ModePercentage, ModeLeastLoaded, ModeFixed, ModeWeightedRandom:
		return true
	}
	return false
}

// Rule is a per-workspace distribution policy. Rules are evaluated by Priority
// descending, then CreatedAt ascending; the first match wins.
type Rule struct {
	ID                string
	WorkspaceID       string
	Name              string
	Description       string
	Mode              Mode
	ApplyToPipelines  []string
	ApplyToSources    []string
	ApplyToTags       []string
	ExcludeTags       []string
	ActiveHoursStart  *string
	ActiveHoursEnd    *string
	ActiveDays        []int
	IsActive          bool
	Priority          int
	LastAssignedIndex int
	FixedUserID       *string
	Condition         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Member struct {
	ID                 string
	RuleID             string
	UserID             string
	Percentage         float64
	Weight             *float64
	IsActive           bool
	MaxLeadsPerDay     *int
	MaxLeadsPerHour    *int
	MaxOpenLeads       *int
	LeadsAssignedToday int
	LeadsAssignedHour  int
	LastAssignmentAt   *time.Time
	CreatedAt          time.Time
}

// effectiveWeight treats a missing or non-positive weight as 1.
func (m Member) effectiveWeight() float64 {
	if m.Weight == nil || *m.Weight <= 0 {
		return 1
	}
	return *m.Weight
}

// Lead is the subset of the CRM lead record the engine reads.
type Lead struct {
	ID          string
	WorkspaceID string
	PipelineID  string
	Source      string
	Tags        []string
	Status      string
	AssignedTo  *string
	CreatedAt   time.Time
}

// Log is one append-only record of a committed assignment.
type Log struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	LeadID         string    `json:"lead_id"`
	RuleID         string    `json:"rule_id"`
	AssignedUserID string    `json:"assigned_user_id"`
	Source         string    `json:"source"`
	PipelineID     string    `json:"pipeline_id"`
	Mode           Mode      `json:"distribution_mode"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Request is the lead context a distribution attempt runs against.
type Request struct {
	LeadID      string   `json:"lead_id" validate:"required"`
	WorkspaceID string   `json:"workspace_id" validate:"required"`
	PipelineID  string   `json:"pipeline_id,omitempty"`
	Source      string   `json:"source,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Result is the outcome of one attempt. On success Reason is the human
// readable explanation; otherwise it is the Outcome code.
type Result struct {
	Success    bool    `json:"success"`
	AssignedTo string  `json:"assigned_to,omitempty"`
	Rule       string  `json:"rule,omitempty"`
	RuleID     string  `json:"rule_id,omitempty"`
	Mode       Mode    `json:"mode,omitempty"`
	Reason     string  `json:"reason"`
	Outcome    Outcome `json:"-"`
}

func failed(outcome Outcome) *Result {
	return &Result{Success: false, Reason: string(outcome), Outcome: outcome}
}

// Selection is a strategy's pick.
type Selection struct {
	Member Member
	Reason string
	// Cursor bounds are set by round-robin only.
	PrevCursor int
	NextCursor int
	HasCursor  bool
}

// LeadFailure records a lead a batch run could not process.
type LeadFailure struct {
	LeadID string `json:"lead_id"`
	Error  string `json:"error"`
}

type BatchResult struct {
	Distributed int             `json:"distributed"`
	Attempted   int             `json:"attempted"`
	Outcomes    map[Outcome]int `json:"outcomes"`
	Failures    []LeadFailure   `json:"failures"`
}
