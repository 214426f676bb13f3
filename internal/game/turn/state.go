// Package turn implements the single-turn state machine and the decision
// policy contract it drives.
package turn

import (
	"fmt"
	"slices"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
)

// Phase is a turn state.
type Phase int

const (
	// Rolling means the dice in hand are about to be rolled.
	Rolling Phase = iota
	// Scored means faces are on the table and not yet evaluated.
	Scored
	// Deciding means the roll scored and a decision is required.
	Deciding
	// Banked is terminal: the turn score is committed.
	Banked
	// Busted is terminal: the turn score is forfeited.
	Busted
)

func (p Phase) String() string {
	switch p {
	case Rolling:
		return "rolling"
	case Scored:
		return "scored"
	case Deciding:
		return "deciding"
	case Banked:
		return "banked"
	case Busted:
		return "busted"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether the turn has ended.
func (p Phase) Terminal() bool { return p == Banked || p == Busted }

// Action is what the player does after taking a scoring option.
type Action int

const (
	Bank Action = iota
	Continue
)

func (a Action) String() string {
	if a == Bank {
		return "bank"
	}
	return "continue"
}

// Decision selects one scoring option by index and an action.
type Decision struct {
	Choice int
	Action Action
}

// GameContext is the game situation a turn is played in.
//
// The zero value is a standalone turn with no target.
type GameContext struct {
	// InGame reports whether the turn belongs to a game. When false the
	// remaining fields are ignored by the simulator.
	InGame        bool
	OwnScore      int
	OpponentScore int
	PointCap      int
	// FinalTurn marks the side's last chance to overtake the opponent.
	FinalTurn bool
	// ExtraRound marks a sudden-death turn.
	ExtraRound bool
	// Turn is the 1-based game turn number.
	Turn     int
	Opponent *dice.Pool
	Rules    ruleset.GameRules
}

// Target returns the score the side must reach for the turn to bank
// automatically, and false when the turn has no such target.
func (g GameContext) Target() (int, bool) {
	if !g.InGame {
		return 0, false
	}
	if g.FinalTurn {
		return max(g.PointCap, g.OpponentScore+1), true
	}
	if g.ExtraRound {
		return 0, false
	}
	return g.PointCap, true
}

// Needed returns the points still required to reach the target, or -1 when
// there is none.
func (g GameContext) Needed() int {
	t, ok := g.Target()
	if !ok {
		return -1
	}
	return max(0, t-g.OwnScore)
}

// State is one turn in progress.
//
// Invariant: len(Hand) is in [0, 6]; Faces is index-aligned with Hand while
// Phase is Scored or Deciding; TurnScore is 0 once Busted.
type State struct {
	Pool *dice.Pool
	// Hand lists the pool positions that will be rolled next.
	Hand []int
	// Faces is the last roll, Faces[i] rolled by pool position Hand[i].
	Faces   []int
	Options []scoring.Option
	// TurnScore is the points set aside this turn and not yet banked.
	TurnScore int
	// Rolls counts rolls for the minimum-bank rule; it may restart on a clear.
	Rolls int
	// TotalRolls counts every roll of the turn.
	TotalRolls int
	// Clears counts how often all six dice scored and were rerolled.
	Clears int
	Phase  Phase
	Game   GameContext
}

// FullHand returns all six pool positions.
func FullHand() []int {
	hand := make([]int, dice.PoolSize)
	for i := range hand {
		hand[i] = i
	}
	return hand
}

// Clone returns a copy that shares no mutable slices with s. Options share
// their read-only face and combo slices.
func (s *State) Clone() *State {
	c := *s
	c.Hand = slices.Clone(s.Hand)
	c.Faces = slices.Clone(s.Faces)
	c.Options = slices.Clone(s.Options)
	return &c
}

// HandDice returns the dice in hand, in hand order.
func (s *State) HandDice() []*dice.Die {
	return s.Pool.Subset(s.Hand)
}

// HandIDs returns the IDs of the dice in hand, in hand order.
func (s *State) HandIDs() []string {
	ids := make([]string, len(s.Hand))
	for i, pos := range s.Hand {
		ids[i] = s.Pool.Die(pos).ID
	}
	return ids
}

// DiceAfter returns the dice that would be rolled next after keeping opt:
// the rest of the hand, the whole pool when opt clears the hand and reroll is
// set, or none.
//
// Precondition: opt is one of s.Options.
func (s *State) DiceAfter(opt scoring.Option, reroll bool) []*dice.Die {
	if opt.Consumed >= len(s.Hand) {
		if reroll {
			return s.Pool.Dice()
		}
		return nil
	}
	kept := make(map[int]bool, len(opt.Dice))
	for _, i := range opt.Dice {
		kept[i] = true
	}
	out := make([]*dice.Die, 0, len(s.Hand)-opt.Consumed)
	for i, pos := range s.Hand {
		if !kept[i] {
			out = append(out, s.Pool.Die(pos))
		}
	}
	return out
}

// Result is the outcome of a finished turn.
type Result struct {
	// Score is the banked points, 0 when busted.
	Score  int
	Busted bool
	Rolls  int
	Clears int
}

// Result summarises a terminal state.
//
// Precondition: s.Phase.Terminal().
func (s *State) Result() Result {
	if !s.Phase.Terminal() {
		panic(fmt.Sprintf("turn: Result called in phase %s", s.Phase))
	}
	return Result{Score: s.TurnScore, Busted: s.Phase == Busted, Rolls: s.TotalRolls, Clears: s.Clears}
}
