package turn

import (
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
)

// Policy chooses a scoring option and an action for a roll.
//
// Decide is called only with a non-empty options slice and must return a
// Choice indexing into it; the simulator panics otherwise. Implementations
// must return in bounded time and must be safe for concurrent use.
type Policy interface {
	Name() string
	Decide(s *State, options []scoring.Option, g GameContext) Decision
	// RerollOnClear reports whether the policy rerolls all six dice after
	// every die has scored instead of banking.
	RerollOnClear() bool
}

// RuleOverrider is implemented by policies that always play under their own
// turn rules, such as a house minimum bank.
type RuleOverrider interface {
	TurnRules(base ruleset.TurnRules) ruleset.TurnRules
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc struct {
	ID      string
	Reroll  bool
	DecideF func(s *State, options []scoring.Option, g GameContext) Decision
}

func (p PolicyFunc) Name() string        { return p.ID }
func (p PolicyFunc) RerollOnClear() bool { return p.Reroll }
func (p PolicyFunc) Decide(s *State, options []scoring.Option, g GameContext) Decision {
	return p.DecideF(s, options, g)
}

// BankFirst takes the highest-scoring option and banks immediately.
func BankFirst() Policy {
	return PolicyFunc{ID: "bank_first", DecideF: func(*State, []scoring.Option, GameContext) Decision {
		return Decision{Choice: 0, Action: Bank}
	}}
}
