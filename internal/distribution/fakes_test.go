package distribution

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"leadflow/internal/logger"
	"leadflow/pkg/retry"
)

var testNow = time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC) // a Wednesday

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

func intPtr(n int) *int { return &n }
func strPtr(s string) *string { return &s }
func floatPtr(f float64) *float64 { return &f }

// memStore is an in-memory implementation of every store interface. Errors
// keyed by operation name are returned by the matching method.
type memStore struct {
	mu sync.Mutex

	rules      map[string][]Rule
	members    map[string][]Member
	cursors    map[string]int
	openLeads  map[string]int
	leads      map[string]*Lead
	logs       []Log
	increments map[string]int

	errs         map[string]error
	casConflicts int
	calls        map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		rules:      make(map[string][]Rule),
		members:    make(map[string][]Member),
		cursors:    make(map[string]int),
		openLeads:  make(map[string]int),
		leads:      make(map[string]*Lead),
		increments: make(map[string]int),
		errs:       make(map[string]error),
		calls:      make(map[string]int),
	}
}

func (s *memStore) addRule(rule Rule, members ...Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !rule.IsActive {
		rule.IsActive = true
	}
	s.rules[rule.WorkspaceID] = append(s.rules[rule.WorkspaceID], rule)
	sort.SliceStable(s.rules[rule.WorkspaceID], func(i, j int) bool {
		a, b := s.rules[rule.WorkspaceID][i], s.rules[rule.WorkspaceID][j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	s.cursors[rule.ID] = rule.LastAssignedIndex
	for i := range members {
		members[i].RuleID = rule.ID
	}
	s.members[rule.ID] = append(s.members[rule.ID], members...)
}

func (s *memStore) addLead(lead Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := lead
	s.leads[lead.ID] = &l
}

func (s *memStore) fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[op] = err
}

func (s *memStore) enter(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.errs[op]
}

func (s *memStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *memStore) assignee(leadID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leads[leadID]; ok && l.AssignedTo != nil {
		return *l.AssignedTo
	}
	return ""
}

func (s *memStore) logCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

func (s *memStore) incrementCount(memberID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.increments[memberID]
}

func (s *memStore) cursor(ruleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[ruleID]
}

func (s *memStore) ListActiveRules(_ context.Context, workspaceID string) ([]Rule, error) {
	if err := s.enter("rules"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Rule(nil), s.rules[workspaceID]...), nil
}

func (s *memStore) ListActiveMembers(_ context.Context, ruleID string) ([]Member, error) {
	if err := s.enter("members"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Member(nil), s.members[ruleID]...), nil
}

func (s *memStore) CountOpenLeadsForUser(_ context.Context, _ string, userID string) (int, error) {
	if err := s.enter("count"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLeads[userID], nil
}

func (s *memStore) SetAssignee(_ context.Context, leadID, userID string) error {
	if err := s.enter("assignee"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return ErrLeadNotFound
	}
	u := userID
	l.AssignedTo = &u
	return nil
}

func (s *memStore) ListUnassignedLeads(_ context.Context, workspaceID string, limit int) ([]Lead, error) {
	if err := s.enter("unassigned"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Lead
	for _, l := range s.leads {
		if l.WorkspaceID == workspaceID && l.AssignedTo == nil {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) AppendLog(_ context.Context, entry Log) error {
	if err := s.enter("log"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if l.IdempotencyKey == entry.IdempotencyKey {
			return nil
		}
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *memStore) ListLogs(_ context.Context, workspaceID string, limit int) ([]Log, error) {
	if err := s.enter("list_logs"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Log{}
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.logs[i].WorkspaceID == workspaceID {
			out = append(out, s.logs[i])
		}
	}
	return out, nil
}

func (s *memStore) IncrementCounters(_ context.Context, memberID string, at time.Time) error {
	if err := s.enter("increment"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increments[memberID]++
	for ruleID, members := range s.members {
		for i := range members {
			if members[i].ID == memberID {
				s.members[ruleID][i].LeadsAssignedToday++
				s.members[ruleID][i].LeadsAssignedHour++
				t := at
				s.members[ruleID][i].LastAssignmentAt = &t
			}
		}
	}
	return nil
}

func (s *memStore) ResetHourlyCounters(context.Context) (int64, error) {
	if err := s.enter("reset_hourly"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for ruleID, members := range s.members {
		for i := range members {
			if members[i].LeadsAssignedHour != 0 {
				s.members[ruleID][i].LeadsAssignedHour = 0
				n++
			}
		}
	}
	return n, nil
}

func (s *memStore) ResetDailyCounters(context.Context) (int64, error) {
	if err := s.enter("reset_daily"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for ruleID, members := range s.members {
		for i := range members {
			if members[i].LeadsAssignedToday != 0 {
				s.members[ruleID][i].LeadsAssignedToday = 0
				n++
			}
		}
	}
	return n, nil
}

func (s *memStore) LoadCursor(_ context.Context, ruleID string) (int, error) {
	if err := s.enter("load_cursor"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[ruleID], nil
}

func (s *memStore) CompareAndSwapCursor(_ context.Context, ruleID string, prev, next int) error {
	if err := s.enter("cas"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.casConflicts > 0 {
		s.casConflicts--
		return ErrCursorConflict
	}
	if s.cursors[ruleID] != prev {
		return ErrCursorConflict
	}
	s.cursors[ruleID] = next
	return nil
}

func (s *memStore) stores() Stores {
	return Stores{
		Rules:    s,
		Members:  s,
		Leads:    s,
		Logs:     s,
		Counters: s,
		Cursors:  s,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Result
	err    error
}

func (p *recordingPublisher) PublishAssigned(_ context.Context, _ Request, result *Result, _ Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *result)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func testOptions() Options {
	return Options{
		StoreTimeout:     time.Second,
		CursorMaxRetries: 3,
		AssigneeRetry: retry.Policy{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      1,
		},
		Clock: func() time.Time { return testNow },
	}
}

func newTestService(t *testing.T, stores Stores, mutate ...func(*Options)) *Service {
	t.Helper()
	opts := testOptions()
	for _, m := range mutate {
		m(&opts)
	}
	svc, err := NewService(stores, opts, logger.NopLogger())
	require.NoError(t, err)
	return svc
}
