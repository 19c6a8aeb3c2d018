package distribution

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"leadflow/internal/logger"
	"leadflow/pkg/cel"
)

type conditionEvaluator interface {
	EvaluateCondition(ctx context.Context, expression string, vars cel.LeadVars) (bool, error)
}

type MatcherOptions struct {
	EvaluateTags       bool
	EvaluateConditions bool
}

// Matcher picks the first rule whose filters all accept a lead.
type Matcher struct {
	opts       MatcherOptions
	conditions conditionEvaluator
	logger     logger.Logger
}

func NewMatcher(opts MatcherOptions, conditions conditionEvaluator, log logger.Logger) *Matcher {
	return &Matcher{opts: opts, conditions: conditions, logger: log}
}

// Match returns the first matching rule. now must already be in the workspace's timezone.
func (m *Matcher) Match(ctx context.Context, rules []Rule, req Request, now time.Time) (*Rule, bool) {
	for i := range rules {
		if m.Matches(ctx, rules[i], req, now) {
			return &rules[i], true
		}
	}
	return nil, false
}

func (m *Matcher) Matches(ctx context.Context, rule Rule, req Request, now time.Time) bool {
	if len(rule.ApplyToPipelines) > 0 {
		if req.PipelineID == "" || !slices.Contains(rule.ApplyToPipelines, req.PipelineID) {
			return false
		}
	}

	if len(rule.ApplyToSources) > 0 && !sourceMatches(req.Source, rule.ApplyToSources) {
		return false
	}

	if len(rule.ActiveDays) > 0 && !slices.Contains(rule.ActiveDays, int(now.Weekday())) {
		return false
	}

	if ok, err := withinActiveHours(rule, now); err != nil {
		m.logger.WarnwCtx(ctx, "Rule has unparseable active hours, skipping",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"error", err,
		)
		return false
	} else if !ok {
		return false
	}

	if m.opts.EvaluateTags && !tagsMatch(rule, req.Tags) {
		return false
	}

	if m.opts.EvaluateConditions && rule.Condition != "" && m.conditions != nil {
		ok, err := m.conditions.EvaluateCondition(ctx, rule.Condition, cel.LeadVars{
			LeadID:      req.LeadID,
			WorkspaceID: req.WorkspaceID,
			PipelineID:  req.PipelineID,
			Source:      req.Source,
			Tags:        req.Tags,
		})
		if err != nil {
			m.logger.WarnwCtx(ctx, "Rule condition failed to evaluate, skipping",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err,
			)
			return false
		}
		if !ok {
			return false
		}
	}

	return true
}

// NormalizeSource lower-cases s and strips whitespace, underscores, hyphens and parentheses.
func NormalizeSource(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '_', '-', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sourceMatches applies symmetric containment between the normalized lead
// source and each normalized configured source. A lead source that normalizes
// to "" never matches a source-filtered rule. This departs from literal
// containment, under which "" is contained in every configured source and
// would match all of them.
func sourceMatches(leadSource string, configured []string) bool {
	lead := NormalizeSource(leadSource)
	if lead == "" {
		return false
	}
	for _, src := range configured {
		want := NormalizeSource(src)
		if want == "" {
			continue
		}
		if strings.Contains(lead, want) || strings.Contains(want, lead) {
			return true
		}
	}
	return false
}

// withinActiveHours is inclusive on both ends. A window whose start is after
// its end never matches; overnight windows are not supported.
func withinActiveHours(rule Rule, now time.Time) (bool, error) {
	if rule.ActiveHoursStart == nil || rule.ActiveHoursEnd == nil {
		return true, nil
	}
	if *rule.ActiveHoursStart == "" || *rule.ActiveHoursEnd == "" {
		return true, nil
	}

	start, err := parseTimeOfDay(*rule.ActiveHoursStart)
	if err != nil {
		return false, fmt.Errorf("active_hours_start: %w", err)
	}
	end, err := parseTimeOfDay(*rule.ActiveHoursEnd)
	if err != nil {
		return false, fmt.Errorf("active_hours_end: %w", err)
	}

	current := now.Hour()*60 + now.Minute()
	return current >= start && current <= end, nil
}

// parseTimeOfDay converts "HH:MM" or "HH:MM:SS" to minutes since midnight.
func parseTimeOfDay(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("invalid second in %q", s)
		}
	}

	return hour*60 + minute, nil
}

func tagsMatch(rule Rule, leadTags []string) bool {
	for _, excluded := range rule.ExcludeTags {
		if slices.Contains(leadTags, excluded) {
			return false
		}
	}
	if len(rule.ApplyToTags) == 0 {
		return true
	}
	for _, tag := range rule.ApplyToTags {
		if slices.Contains(leadTags, tag) {
			return true
		}
	}
	return false
}
