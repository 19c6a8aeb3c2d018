package distribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/logger"
	"leadflow/pkg/cel"
)

func TestNormalizeSource(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Facebook Ads", "facebookads"},
		{"facebook-ads", "facebookads"},
		{"FACEBOOK_ADS", "facebookads"},
		{" Google (Organic) ", "googleorganic"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSource(tt.in), tt.in)
	}
}

func TestSourceMatches(t *testing.T) {
	tests := []struct {
		name       string
		lead       string
		configured []string
		want       bool
	}{
		{name: "punctuation and case insensitive", lead: "Facebook Ads", configured: []string{"facebook-ads"}, want: true},
		{name: "lead contains configured", lead: "Facebook Ads", configured: []string{"facebook"}, want: true},
		{name: "configured contains lead", lead: "fb", configured: []string{"FB Lead Form"}, want: true},
		{name: "no overlap", lead: "google", configured: []string{"facebook"}},
		{name: "empty lead source", lead: "", configured: []string{"facebook"}},
		{name: "lead source of only separators", lead: " _-() ", configured: []string{"facebook", "google"}},
		{name: "empty configured entry skipped", lead: "google", configured: []string{"", "  ", "google"}, want: true},
		{name: "only empty configured entries", lead: "google", configured: []string{"", "-"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sourceMatches(tt.lead, tt.configured))
		})
	}
}

func TestSourceMatchesIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"Facebook Ads", "facebook-ads"},
		{"facebook", "Facebook Ads"},
		{"google", "facebook"},
		{"Web_Form", "web form (legacy)"},
	}
	for _, p := range pairs {
		assert.Equal(t, sourceMatches(p[0], []string{p[1]}), sourceMatches(p[1], []string{p[0]}), "%q vs %q", p[0], p[1])
	}
}

func TestMatcher_PipelineFilter(t *testing.T) {
	m := NewMatcher(MatcherOptions{}, nil, logger.NopLogger())
	rule := Rule{ID: "r1", ApplyToPipelines: []string{"p1", "p2"}}

	tests := []struct {
		name     string
		pipeline string
		source   string
		want     bool
	}{
		{name: "listed pipeline", pipeline: "p2", want: true},
		{name: "unlisted pipeline", pipeline: "p3"},
		{name: "no pipeline", pipeline: ""},
		{name: "unlisted pipeline with any source", pipeline: "p9", source: "facebook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{LeadID: "l1", WorkspaceID: "ws", PipelineID: tt.pipeline, Source: tt.source}
			assert.Equal(t, tt.want, m.Matches(context.Background(), rule, req, testNow))
		})
	}
}

func TestMatcher_ActiveDays(t *testing.T) {
	m := NewMatcher(MatcherOptions{}, nil, logger.NopLogger())
	req := Request{LeadID: "l1", WorkspaceID: "ws"}

	assert.True(t, m.Matches(context.Background(), Rule{ActiveDays: []int{3}}, req, testNow))
	assert.False(t, m.Matches(context.Background(), Rule{ActiveDays: []int{0, 6}}, req, testNow))
	assert.True(t, m.Matches(context.Background(), Rule{}, req, testNow))
}

func TestMatcher_ActiveHours(t *testing.T) {
	m := NewMatcher(MatcherOptions{}, nil, logger.NopLogger())
	req := Request{LeadID: "l1", WorkspaceID: "ws"}

	tests := []struct {
		name  string
		start *string
		end   *string
		want  bool
	}{
		{name: "inside window", start: strPtr("09:00"), end: strPtr("17:00"), want: true},
		{name: "inclusive bounds", start: strPtr("10:30"), end: strPtr("10:30"), want: true},
		{name: "seconds format", start: strPtr("09:00:00"), end: strPtr("18:00:00"), want: true},
		{name: "before window", start: strPtr("11:00"), end: strPtr("12:00")},
		{name: "after window", start: strPtr("08:00"), end: strPtr("10:29")},
		{name: "start after end never matches", start: strPtr("22:00"), end: strPtr("06:00")},
		{name: "only start set", start: strPtr("11:00"), want: true},
		{name: "empty bounds", start: strPtr(""), end: strPtr(""), want: true},
		{name: "unparseable bound", start: strPtr("25:00"), end: strPtr("26:00")},
		{name: "garbage", start: strPtr("morning"), end: strPtr("17:00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := Rule{ID: "r1", ActiveHoursStart: tt.start, ActiveHoursEnd: tt.end}
			assert.Equal(t, tt.want, m.Matches(context.Background(), rule, req, testNow))
		})
	}
}

func TestMatcher_UsesLocalTime(t *testing.T) {
	m := NewMatcher(MatcherOptions{}, nil, logger.NopLogger())
	rule := Rule{ActiveHoursStart: strPtr("09:00"), ActiveHoursEnd: strPtr("17:00")}
	req := Request{LeadID: "l1", WorkspaceID: "ws"}

	tokyo := time.FixedZone("JST", 9*60*60)
	// 10:30 UTC is 19:30 in Tokyo.
	assert.False(t, m.Matches(context.Background(), rule, req, testNow.In(tokyo)))
}

func TestMatcher_Tags(t *testing.T) {
	rule := Rule{ApplyToTags: []string{"vip", "enterprise"}, ExcludeTags: []string{"spam"}}

	tests := []struct {
		name string
		tags []string
		want bool
	}{
		{name: "has apply tag", tags: []string{"vip"}, want: true},
		{name: "no apply tag", tags: []string{"smb"}},
		{name: "excluded wins", tags: []string{"vip", "spam"}},
		{name: "no tags", tags: nil},
	}

	on := NewMatcher(MatcherOptions{EvaluateTags: true}, nil, logger.NopLogger())
	off := NewMatcher(MatcherOptions{}, nil, logger.NopLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{LeadID: "l1", WorkspaceID: "ws", Tags: tt.tags}
			assert.Equal(t, tt.want, on.Matches(context.Background(), rule, req, testNow))
			assert.True(t, off.Matches(context.Background(), rule, req, testNow))
		})
	}

	t.Run("exclude only", func(t *testing.T) {
		r := Rule{ExcludeTags: []string{"spam"}}
		assert.True(t, on.Matches(context.Background(), r, Request{Tags: []string{"vip"}}, testNow))
		assert.False(t, on.Matches(context.Background(), r, Request{Tags: []string{"spam"}}, testNow))
	})
}

func TestMatcher_Condition(t *testing.T) {
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)

	m := NewMatcher(MatcherOptions{EvaluateConditions: true}, eval, logger.NopLogger())
	req := Request{LeadID: "l1", WorkspaceID: "ws", Source: "facebook", Tags: []string{"vip"}}

	assert.True(t, m.Matches(context.Background(), Rule{Condition: `"vip" in tags`}, req, testNow))
	assert.False(t, m.Matches(context.Background(), Rule{Condition: `source == "google"`}, req, testNow))
	assert.False(t, m.Matches(context.Background(), Rule{Condition: `source ==`}, req, testNow))

	disabled := NewMatcher(MatcherOptions{}, eval, logger.NopLogger())
	assert.True(t, disabled.Matches(context.Background(), Rule{Condition: `source == "google"`}, req, testNow))
}

func TestMatcher_FirstMatchWins(t *testing.T) {
	m := NewMatcher(MatcherOptions{}, nil, logger.NopLogger())
	rules := []Rule{
		{ID: "high", Priority: 10, ApplyToSources: []string{"google"}},
		{ID: "mid", Priority: 5, ApplyToSources: []string{"facebook"}},
		{ID: "low", Priority: 1},
	}

	rule, ok := m.Match(context.Background(), rules, Request{Source: "Facebook Ads"}, testNow)
	require.True(t, ok)
	assert.Equal(t, "mid", rule.ID)

	rule, ok = m.Match(context.Background(), rules, Request{Source: "linkedin"}, testNow)
	require.True(t, ok)
	assert.Equal(t, "low", rule.ID)

	_, ok = m.Match(context.Background(), rules[:2], Request{Source: "linkedin"}, testNow)
	assert.False(t, ok)
}
