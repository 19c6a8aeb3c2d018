package distribution

import (
	"context"
	"sync"
	"time"

	"leadflow/pkg/metrics"
)

type cachedRules struct {
	rules    []Rule
	loadedAt time.Time
}

// CachedRuleStore keeps each workspace's active rules in memory for a TTL.
// Rule change events call Invalidate so edits apply before the TTL lapses.
// The cursor is never read from cached rules.
type CachedRuleStore struct {
	next RuleStore
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedRules
}

func NewCachedRuleStore(next RuleStore, ttl time.Duration) *CachedRuleStore {
	return &CachedRuleStore{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedRules),
	}
}

func (c *CachedRuleStore) ListActiveRules(ctx context.Context, workspaceID string) ([]Rule, error) {
	c.mu.RLock()
	entry, ok := c.entries[workspaceID]
	c.mu.RUnlock()

	if ok && c.now().Sub(entry.loadedAt) < c.ttl {
		metrics.IncRuleCache(true)
		return cloneRules(entry.rules), nil
	}
	metrics.IncRuleCache(false)

	rules, err := c.next.ListActiveRules(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[workspaceID] = cachedRules{rules: cloneRules(rules), loadedAt: c.now()}
	c.mu.Unlock()

	metrics.SetActiveRules(workspaceID, len(rules))
	return rules, nil
}

func (c *CachedRuleStore) Invalidate(workspaceID string) {
	c.mu.Lock()
	delete(c.entries, workspaceID)
	c.mu.Unlock()
}

func (c *CachedRuleStore) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cachedRules)
	c.mu.Unlock()
}

// cloneRules copies the slice so callers cannot mutate cached entries. Rule
// slices inside are shared and treated as read-only.
func cloneRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}
