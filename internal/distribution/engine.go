package distribution

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"

	"leadflow/internal/config"
	"leadflow/internal/constants"
	"leadflow/internal/logger"
	"leadflow/pkg/errors"
	"leadflow/pkg/logging"
	"leadflow/pkg/metrics"
	"leadflow/pkg/retry"
	"leadflow/pkg/tracing"
)

// Stores groups the collaborators the engine reads and writes. Guard,
// OpenLeads, Publisher and Conditions are optional.
type Stores struct {
	Rules      RuleStore
	Members    MemberStore
	Leads      LeadStore
	Logs       LogStore
	Counters   CounterStore
	Cursors    CursorStore
	Guard      CounterGuard
	OpenLeads  OpenLeadsCache
	Publisher  EventPublisher
	Conditions conditionEvaluator
}

type BatchOptions struct {
	DefaultLimit int
	MaxLimit     int
	LeadTimeout  time.Duration
}

type Options struct {
	StoreTimeout       time.Duration
	CursorMaxRetries   int
	DefaultTimezone    string
	WorkspaceTimezones map[string]string
	Matching           MatcherOptions
	AssigneeRetry      retry.Policy
	Batch              BatchOptions
	Random             RandomSource
	Clock              func() time.Time
}

func OptionsFromConfig(cfg config.DistributionConfig) Options {
	return Options{
		StoreTimeout:       cfg.StoreTimeout,
		CursorMaxRetries:   cfg.CursorMaxRetries,
		DefaultTimezone:    cfg.DefaultTimezone,
		WorkspaceTimezones: cfg.WorkspaceTimezones,
		Matching: MatcherOptions{
			EvaluateTags:       cfg.Matching.EvaluateTags,
			EvaluateConditions: cfg.Matching.EvaluateConditions,
		},
		AssigneeRetry: retry.Policy{
			MaxAttempts:     cfg.AssigneeRetry.MaxAttempts,
			InitialInterval: cfg.AssigneeRetry.InitialInterval,
			MaxInterval:     cfg.AssigneeRetry.MaxInterval,
			Multiplier:      cfg.AssigneeRetry.Multiplier,
			MaxElapsedTime:  cfg.AssigneeRetry.MaxElapsedTime,
		},
		Batch: BatchOptions{
			DefaultLimit: cfg.Batch.DefaultLimit,
			MaxLimit:     cfg.Batch.MaxLimit,
			LeadTimeout:  cfg.Batch.LeadTimeout,
		},
	}
}

// Service runs distribution attempts for single leads and batches.
type Service struct {
	rules     RuleStore
	members   MemberStore
	leads     LeadStore
	logs      LogStore
	cursors   CursorStore
	openLeads OpenLeadsCache
	matcher   *Matcher
	committer *Committer
	random    RandomSource
	clock     func() time.Time
	validate  *validator.Validate
	locks     *keyedMutex

	storeTimeout     time.Duration
	cursorMaxRetries int
	defaultLocation  *time.Location
	locations        map[string]*time.Location
	batch            BatchOptions
	logger           logger.Logger
}

func NewService(stores Stores, opts Options, log logger.Logger) (*Service, error) {
	if stores.Rules == nil || stores.Members == nil || stores.Leads == nil ||
		stores.Logs == nil || stores.Counters == nil || stores.Cursors == nil {
		return nil, fmt.Errorf("distribution: rule, member, lead, log, counter and cursor stores are required")
	}

	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = constants.DefaultStoreTimeout
	}
	if opts.CursorMaxRetries < 0 {
		opts.CursorMaxRetries = 0
	}
	if opts.Batch.DefaultLimit <= 0 {
		opts.Batch.DefaultLimit = constants.DefaultBatchLimit
	}
	if opts.Batch.MaxLimit <= 0 {
		opts.Batch.MaxLimit = constants.MaxBatchLimit
	}
	if opts.Batch.LeadTimeout <= 0 {
		opts.Batch.LeadTimeout = constants.DefaultBatchLeadTimeout
	}
	if opts.Random == nil {
		opts.Random = defaultRandom{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if stores.Guard == nil {
		stores.Guard = noopGuard{}
	}
	if stores.Publisher == nil {
		stores.Publisher = noopPublisher{}
	}

	tz := opts.DefaultTimezone
	if tz == "" {
		tz = constants.DefaultTimezone
	}
	defaultLoc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("distribution: invalid default timezone %q: %w", tz, err)
	}
	locations := make(map[string]*time.Location, len(opts.WorkspaceTimezones))
	for ws, name := range opts.WorkspaceTimezones {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("distribution: invalid timezone %q for workspace %s: %w", name, ws, err)
		}
		locations[ws] = loc
	}

	s := &Service{
		rules:            stores.Rules,
		members:          stores.Members,
		leads:            stores.Leads,
		logs:             stores.Logs,
		cursors:          stores.Cursors,
		openLeads:        stores.OpenLeads,
		matcher:          NewMatcher(opts.Matching, stores.Conditions, log),
		random:           opts.Random,
		clock:            opts.Clock,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		locks:            newKeyedMutex(),
		storeTimeout:     opts.StoreTimeout,
		cursorMaxRetries: opts.CursorMaxRetries,
		defaultLocation:  defaultLoc,
		locations:        locations,
		batch:            opts.Batch,
		logger:           log,
	}

	s.committer = &Committer{
		cursors:       stores.Cursors,
		counters:      stores.Counters,
		guard:         stores.Guard,
		logs:          stores.Logs,
		leads:         stores.Leads,
		openLeads:     stores.OpenLeads,
		publisher:     stores.Publisher,
		assigneeRetry: opts.AssigneeRetry,
		storeTimeout:  opts.StoreTimeout,
		now:           opts.Clock,
		logger:        log,
	}

	return s, nil
}

// Distribute runs one attempt for a lead. Business outcomes come back as a
// Result with Success false; store failures come back as an error with code
// INFRASTRUCTURE_ERROR and leave the lead unassigned.
func (s *Service) Distribute(ctx context.Context, req Request) (*Result, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	ctx = logging.WithLead(ctx, req.WorkspaceID, req.LeadID)
	ctx, span := tracing.StartSpan(ctx, "distribution.distribute",
		attribute.String("workspace_id", req.WorkspaceID),
		attribute.String("lead_id", req.LeadID),
	)

	start := time.Now()
	result, err := s.distribute(ctx, req)
	duration := time.Since(start)

	outcome, mode := OutcomeInfrastructureError, "none"
	if result != nil {
		outcome = result.Outcome
		if result.Mode != "" {
			mode = string(result.Mode)
		}
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	tracing.EndSpan(span, err)
	metrics.ObserveDistribution(string(outcome), mode, duration)

	switch {
	case err != nil:
		s.logger.ErrorwCtx(ctx, "Distribution failed", "error", err, "duration_ms", duration.Milliseconds())
	case result.Success:
		metrics.IncAssignment(mode)
		s.logger.InfowCtx(ctx, "Lead assigned",
			"assigned_to", result.AssignedTo,
			"rule_id", result.RuleID,
			"reason", result.Reason,
			"duration_ms", duration.Milliseconds(),
		)
	default:
		s.logger.InfowCtx(ctx, "Lead not assigned", "outcome", result.Outcome, "rule_id", result.RuleID)
	}

	return result, err
}

func (s *Service) validateRequest(req Request) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return errors.ErrValidation.
				WithCause(err).
				WithDetail("message", "invalid distribution request: "+strings.Join(fields, ", ")).
				WithDetail("fields", fields)
		}
		return errors.ErrValidation.WithCause(err)
	}
	return nil
}

func (s *Service) distribute(ctx context.Context, req Request) (*Result, error) {
	rules, err := storeQuery(ctx, s.storeTimeout, "rules.list", func(ctx context.Context) ([]Rule, error) {
		return s.rules.ListActiveRules(ctx, req.WorkspaceID)
	})
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return failed(OutcomeNoRules), nil
	}

	rule, ok := s.matcher.Match(ctx, rules, req, s.localNow(req.WorkspaceID))
	if !ok {
		return failed(OutcomeNoMatchingRule), nil
	}

	if rule.Mode == ModeRoundRobin {
		unlock, err := s.locks.Lock(ctx, rule.ID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	counter := newAttemptCounter(req.WorkspaceID, s.countOpenLeads, s.openLeads, s.logger)

	for attempt := 1; ; attempt++ {
		result, err := s.attempt(ctx, req, *rule, counter)
		if !stderrors.Is(err, ErrCursorConflict) {
			if result != nil {
				result.RuleID = rule.ID
				result.Mode = rule.Mode
			}
			return result, err
		}

		metrics.IncCursorConflict()
		if attempt > s.cursorMaxRetries {
			return nil, errors.Infrastructure("rules.cursor_cas", fmt.Errorf("gave up after %d attempts: %w", attempt, err))
		}
		s.logger.WarnwCtx(ctx, "Round-robin cursor conflict, retrying", "rule_id", rule.ID, "attempt", attempt)
	}
}

// attempt runs the member stages for a matched rule.
func (s *Service) attempt(ctx context.Context, req Request, rule Rule, counter *attemptCounter) (*Result, error) {
	members, err := storeQuery(ctx, s.storeTimeout, "members.list", func(ctx context.Context) ([]Member, error) {
		return s.members.ListActiveMembers(ctx, rule.ID)
	})
	if err != nil {
		return nil, err
	}

	active := activeMembers(members)
	if len(active) == 0 {
		return failed(OutcomeNoMembers), nil
	}

	eligible, err := filterByCapacity(ctx, active, counter)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return failed(OutcomeAllMembersAtLimit), nil
	}

	strategy, ok := StrategyFor(rule.Mode, s.random)
	if !ok {
		s.logger.WarnwCtx(ctx, "Rule has unknown distribution mode", "rule_id", rule.ID, "mode", rule.Mode)
		return failed(OutcomeSelectionFailed), nil
	}

	in := StrategyInput{Rule: rule, Eligible: eligible, Counter: counter}
	if rule.Mode == ModeRoundRobin {
		in.Cursor, err = storeQuery(ctx, s.storeTimeout, "rules.cursor_load", func(ctx context.Context) (int, error) {
			return s.cursors.LoadCursor(ctx, rule.ID)
		})
		if err != nil {
			return nil, err
		}
	}

	sel, ok, err := strategy.Select(ctx, in)
	if err != nil {
		return nil, err
	}
	if !ok {
		return failed(OutcomeSelectionFailed), nil
	}

	return s.committer.Commit(ctx, req, rule, sel)
}

func (s *Service) countOpenLeads(ctx context.Context, workspaceID, userID string) (int, error) {
	return storeQuery(ctx, s.storeTimeout, "leads.count_open", func(ctx context.Context) (int, error) {
		return s.leads.CountOpenLeadsForUser(ctx, workspaceID, userID)
	})
}

func (s *Service) localNow(workspaceID string) time.Time {
	loc, ok := s.locations[workspaceID]
	if !ok {
		loc = s.defaultLocation
	}
	return s.clock().In(loc)
}

// ListLogs returns the workspace's most recent log rows, newest first.
func (s *Service) ListLogs(ctx context.Context, workspaceID string, limit int) ([]Log, error) {
	if limit <= 0 {
		limit = constants.DefaultLogLimit
	}
	if limit > constants.MaxLogLimit {
		limit = constants.MaxLogLimit
	}
	return storeQuery(ctx, s.storeTimeout, "logs.list", func(ctx context.Context) ([]Log, error) {
		return s.logs.ListLogs(ctx, workspaceID, limit)
	})
}
