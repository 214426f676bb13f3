package policy

import (
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// chooser picks the index of the option to keep.
type chooser struct {
	choice Choice
	kinds  map[string]scoring.RuleKind
}

func newChooser(c Choice, engine *scoring.Engine) chooser {
	kinds := make(map[string]scoring.RuleKind)
	for _, r := range engine.Table().Rules {
		kinds[r.ID] = r.Kind
	}
	return chooser{choice: c, kinds: kinds}
}

// pick returns an index into options.
//
// Precondition: len(options) > 0, in engine order.
func (c chooser) pick(options []scoring.Option) int {
	switch c.choice {
	case ChoiceFewestDice:
		return fewestDice(options)
	case ChoiceBalanced:
		return balanced(options)
	case ChoiceStraightHunter:
		if i := c.firstWith(options, scoring.KindStraight); i >= 0 {
			return i
		}
		return balanced(options)
	case ChoiceSetHunter:
		if i := c.firstWith(options, scoring.KindSet); i >= 0 {
			return i
		}
		return balanced(options)
	}
	return 0
}

// fewestDice keeps the fewest dice, the highest points among those.
func fewestDice(options []scoring.Option) int {
	best := 0
	for i, o := range options {
		if o.Consumed < options[best].Consumed {
			best = i
		}
	}
	return best
}

// balanced takes a strong option outright, otherwise values each remaining
// die at 50 points.
func balanced(options []scoring.Option) int {
	if options[0].Points >= 300 {
		return 0
	}
	best, bestValue := 0, -1
	for i, o := range options {
		if v := o.Points + 50*o.Remaining; v > bestValue {
			best, bestValue = i, v
		}
	}
	return best
}

func (c chooser) firstWith(options []scoring.Option, kind scoring.RuleKind) int {
	for i, o := range options {
		for _, combo := range o.Combos {
			if c.kinds[combo.RuleID] == kind {
				return i
			}
		}
	}
	return -1
}

// diceLeft returns the dice the turn would roll next after keeping opt.
func diceLeft(s *turn.State, opt scoring.Option, reroll bool) int {
	left := len(s.Hand) - opt.Consumed
	if left == 0 && reroll {
		return 6
	}
	return left
}

// profiled carries the parts shared by every profile-backed policy.
type profiled struct {
	p *Profile
}

func (b profiled) Name() string        { return b.p.ID }
func (b profiled) RerollOnClear() bool { return b.p.RerollOnClear }

// Profile returns the profile the policy was built from.
func (b profiled) Profile() *Profile { return b.p }

// TurnRules applies the profile's turn-rule override.
func (b profiled) TurnRules(base ruleset.TurnRules) ruleset.TurnRules {
	if b.p.TurnRules != nil {
		return *b.p.TurnRules
	}
	return base
}
