package distribution

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
)

// RandomSource yields uniform draws in [0, 1).
type RandomSource interface {
	Float64() float64
}

type defaultRandom struct{}

func (defaultRandom) Float64() float64 { return rand.Float64() }

// StrategyInput is everything a strategy may look at. Eligible is never empty.
type StrategyInput struct {
	Rule     Rule
	Eligible []Member
	Cursor   int
	Counter  OpenLeadCounter
}

// Strategy picks one member. ok is false when it cannot name anyone.
type Strategy interface {
	Select(ctx context.Context, in StrategyInput) (sel Selection, ok bool, err error)
}

// StrategyFor returns the strategy for mode, or false for an unknown mode.
func StrategyFor(mode Mode, rnd RandomSource) (Strategy, bool) {
	if rnd == nil {
		rnd = defaultRandom{}
	}
	switch mode {
	case ModeRoundRobin:
		return RoundRobin{}, true
	case ModePercentage:
		return Percentage{Random: rnd}, true
	case ModeLeastLoaded:
		return LeastLoaded{}, true
	case ModeFixed:
		return Fixed{}, true
	case ModeWeightedRandom:
		return WeightedRandom{Random: rnd}, true
	}
	return nil, false
}

// RoundRobin advances the rule cursor over the eligible set. The cursor
// indexes the eligible subset, so its meaning shifts as members gain or lose
// eligibility.
type RoundRobin struct{}

func (RoundRobin) Select(_ context.Context, in StrategyInput) (Selection, bool, error) {
	n := len(in.Eligible)
	if n == 0 {
		return Selection{}, false, nil
	}

	next := (in.Cursor + 1) % n
	if next < 0 {
		next += n
	}

	return Selection{
		Member:     in.Eligible[next],
		Reason:     "Round robin — index " + strconv.Itoa(next),
		PrevCursor: in.Cursor,
		NextCursor: next,
		HasCursor:  true,
	}, true, nil
}

// Percentage walks cumulative percentages. A draw landing on a boundary goes
// to the next member; draws past the total fall back to the last member.
type Percentage struct {
	Random RandomSource
}

func (p Percentage) Select(_ context.Context, in StrategyInput) (Selection, bool, error) {
	if len(in.Eligible) == 0 {
		return Selection{}, false, nil
	}

	r := p.Random.Float64() * 100
	picked := in.Eligible[len(in.Eligible)-1]

	cumulative := 0.0
	for _, m := range in.Eligible {
		cumulative += m.Percentage
		if r < cumulative {
			picked = m
			break
		}
	}

	return Selection{
		Member: picked,
		Reason: "Percentage — " + formatNumber(picked.Percentage) + "%",
	}, true, nil
}

// LeastLoaded picks the member with the strictly smallest open-lead count;
// the first one wins ties.
type LeastLoaded struct{}

func (LeastLoaded) Select(ctx context.Context, in StrategyInput) (Selection, bool, error) {
	if len(in.Eligible) == 0 || in.Counter == nil {
		return Selection{}, false, nil
	}

	best := -1
	bestCount := 0
	for i, m := range in.Eligible {
		n, err := in.Counter.Count(ctx, m.UserID)
		if err != nil {
			return Selection{}, false, err
		}
		if best == -1 || n < bestCount {
			best, bestCount = i, n
		}
	}

	return Selection{
		Member: in.Eligible[best],
		Reason: fmt.Sprintf("Least loaded — %d leads", bestCount),
	}, true, nil
}

// Fixed only ever picks the rule's fixed user and never substitutes.
type Fixed struct{}

func (Fixed) Select(_ context.Context, in StrategyInput) (Selection, bool, error) {
	if in.Rule.FixedUserID == nil || *in.Rule.FixedUserID == "" {
		return Selection{}, false, nil
	}

	for _, m := range in.Eligible {
		if m.UserID == *in.Rule.FixedUserID {
			return Selection{
				Member: m,
				Reason: "Fixed — user " + m.UserID,
			}, true, nil
		}
	}
	return Selection{}, false, nil
}

// WeightedRandom subtracts weights from a draw in [0, total); the member that
// takes it to zero or below wins. Rounding leftovers go to the last member.
type WeightedRandom struct {
	Random RandomSource
}

func (w WeightedRandom) Select(_ context.Context, in StrategyInput) (Selection, bool, error) {
	if len(in.Eligible) == 0 {
		return Selection{}, false, nil
	}

	total := 0.0
	for _, m := range in.Eligible {
		total += m.effectiveWeight()
	}

	r := w.Random.Float64() * total
	picked := in.Eligible[len(in.Eligible)-1]
	for _, m := range in.Eligible {
		r -= m.effectiveWeight()
		if r <= 0 {
			picked = m
			break
		}
	}

	return Selection{
		Member: picked,
		Reason: "Weighted random — weight " + formatNumber(picked.effectiveWeight()),
	}, true, nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
