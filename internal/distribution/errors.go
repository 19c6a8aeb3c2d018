package distribution

import "errors"

// Outcome classifies how an attempt ended. Everything other than
// OutcomeAssigned leaves the lead untouched.
type Outcome string

const (
	OutcomeAssigned          Outcome = "assigned"
	OutcomeNoRules           Outcome = "no_rules"
	OutcomeNoMatchingRule    Outcome = "no_matching_rule"
	OutcomeNoMembers         Outcome = "no_members"
	OutcomeAllMembersAtLimit Outcome = "all_members_at_limit"
	OutcomeSelectionFailed   Outcome = "selection_failed"
	// OutcomeInfrastructureError is only used for batch bookkeeping and
	// metrics; single attempts surface it as an error.
	OutcomeInfrastructureError Outcome = "infrastructure_error"
)

var (
	// ErrCursorConflict means another writer advanced the round-robin cursor first.
	ErrCursorConflict = errors.New("round-robin cursor was modified concurrently")

	ErrLeadNotFound = errors.New("lead not found")
)
