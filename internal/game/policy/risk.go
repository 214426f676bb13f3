package policy

import (
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// riskPolicy looks one roll ahead. Keeping an option that leaves turn score
// T and dice D, one more roll ends at 0 on a bust or at T plus the roll's best
// points; the policy continues iff the mean of that outcome minus
// RiskAversion times its standard deviation exceeds T. Among options it keeps
// the one with the highest value of its better action.
type riskPolicy struct {
	profiled
	engine *scoring.Engine
	// cache maps a sorted die-ID key to a scoring.Analysis.
	cache sync.Map
}

func (r *riskPolicy) analyze(ds []*dice.Die) scoring.Analysis {
	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	slices.Sort(ids)
	key := strings.Join(ids, "\x00")
	if a, ok := r.cache.Load(key); ok {
		return a.(scoring.Analysis)
	}
	a := r.engine.Analyze(ds)
	r.cache.Store(key, a)
	return a
}

// continuation returns the risk-adjusted value of rolling ds once more with
// turn score t.
func (r *riskPolicy) continuation(t float64, ds []*dice.Die) float64 {
	mean, sd := r.analyze(ds).After(t)
	return mean - r.p.RiskAversion*sd
}

func (r *riskPolicy) Decide(s *turn.State, options []scoring.Option, g turn.GameContext) turn.Decision {
	best := turn.Decision{Choice: 0, Action: turn.Bank}
	bestValue := math.Inf(-1)
	for i, o := range options {
		t := float64(s.TurnScore + o.Points)
		ds := s.DiceAfter(o, r.p.RerollOnClear)
		value, action := t, turn.Bank
		if len(ds) > 0 {
			if c := r.continuation(t, ds); c > t || g.FinalTurn {
				value, action = c, turn.Continue
			}
		}
		if value > bestValue {
			best, bestValue = turn.Decision{Choice: i, Action: action}, value
		}
	}
	if d := diceLeft(s, options[best.Choice], r.p.RerollOnClear); d < r.p.BankIfDiceBelow && !g.FinalTurn {
		best.Action = turn.Bank
	}
	return best
}
