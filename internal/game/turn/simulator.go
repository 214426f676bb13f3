package turn

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
)

// Config assembles a Simulator.
type Config struct {
	Engine *scoring.Engine
	Policy Policy
	Rules  ruleset.TurnRules
	Logger *zap.Logger
}

// Simulator advances turns for one policy.
//
// Invariant: holds no per-turn state; one Simulator may drive many turns
// concurrently, each with its own State and Source.
type Simulator struct {
	engine *scoring.Engine
	policy Policy
	rules  ruleset.TurnRules
	roller *dice.Roller
	logger *zap.Logger
}

// NewSimulator builds a Simulator. A policy implementing RuleOverrider
// replaces cfg.Rules with its own.
//
// Precondition: cfg.Engine and cfg.Policy must be non-nil.
func NewSimulator(cfg Config) *Simulator {
	if cfg.Engine == nil || cfg.Policy == nil {
		panic("turn: NewSimulator requires an engine and a policy")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rules := cfg.Rules
	if o, ok := cfg.Policy.(RuleOverrider); ok {
		rules = o.TurnRules(rules)
	}
	return &Simulator{
		engine: cfg.Engine,
		policy: cfg.Policy,
		rules:  rules,
		roller: dice.NewLoggedRoller(logger),
		logger: logger.With(zap.String("policy", cfg.Policy.Name())),
	}
}

// Policy returns the simulator's policy.
func (sim *Simulator) Policy() Policy { return sim.policy }

// Rules returns the turn rules in force.
func (sim *Simulator) Rules() ruleset.TurnRules { return sim.rules }

// Engine returns the scoring engine.
func (sim *Simulator) Engine() *scoring.Engine { return sim.engine }

// Begin starts a fresh turn with all six dice in hand.
//
// Precondition: pool must be non-nil.
// Postcondition: Phase == Rolling, TurnScore == 0.
func (sim *Simulator) Begin(pool *dice.Pool, g GameContext) *State {
	return &State{Pool: pool, Hand: FullHand(), Phase: Rolling, Game: g}
}

// Step advances s by one transition and returns the new phase. Terminal
// states are returned unchanged.
//
// Precondition: src must be non-nil when s.Phase == Rolling.
func (sim *Simulator) Step(s *State, src dice.Source) Phase {
	switch s.Phase {
	case Rolling:
		res := sim.roller.Roll(s.Pool, s.Hand, src)
		sim.setFaces(s, res.Faces)
	case Scored:
		sim.evaluate(s)
	case Deciding:
		d := sim.policy.Decide(s, s.Options, s.Game)
		sim.Apply(s, d)
	}
	return s.Phase
}

// SetFaces places externally supplied faces on the table, as for a live roll.
//
// Precondition: s.Phase == Rolling and len(faces) == len(s.Hand); panics otherwise.
// Postcondition: s.Phase == Scored.
func (sim *Simulator) SetFaces(s *State, faces []int) {
	if s.Phase != Rolling {
		panic(fmt.Sprintf("turn: SetFaces called in phase %s", s.Phase))
	}
	if len(faces) != len(s.Hand) {
		panic(fmt.Sprintf("turn: SetFaces got %d faces for %d dice in hand", len(faces), len(s.Hand)))
	}
	sim.setFaces(s, append([]int(nil), faces...))
}

func (sim *Simulator) setFaces(s *State, faces []int) {
	s.Faces = faces
	s.Rolls++
	s.TotalRolls++
	s.Phase = Scored
}

func (sim *Simulator) evaluate(s *State) {
	s.Options = sim.engine.EvaluateDice(s.Faces, s.HandIDs())
	if len(s.Options) > 0 {
		s.Phase = Deciding
		return
	}
	if ce := sim.logger.Check(zap.DebugLevel, "turn busted"); ce != nil {
		ce.Write(zap.Ints("faces", s.Faces), zap.Int("forfeited", s.TurnScore), zap.Int("rolls", s.TotalRolls))
	}
	s.TurnScore = 0
	s.Phase = Busted
}

// Apply applies a decision to a Deciding state and returns the new phase.
//
// The option's points are added and its dice leave the hand. The turn then
// banks when the side reaches its game target, when every die has scored and
// the policy does not reroll on a clear, when the action is Bank and the
// minimum-bank rule allows it, or when the roll limit is reached. Otherwise
// the turn goes back to Rolling.
//
// Precondition: s.Phase == Deciding. Panics if d.Choice does not index
// s.Options, which indicates a broken policy.
func (sim *Simulator) Apply(s *State, d Decision) Phase {
	if s.Phase != Deciding {
		panic(fmt.Sprintf("turn: Apply called in phase %s", s.Phase))
	}
	if d.Choice < 0 || d.Choice >= len(s.Options) {
		panic(fmt.Sprintf("turn: policy %q chose option %d of %d", sim.policy.Name(), d.Choice, len(s.Options)))
	}
	opt := s.Options[d.Choice]
	s.TurnScore += opt.Points
	s.Hand = removeIndices(s.Hand, opt.Dice)
	s.Faces = nil
	s.Options = nil

	if ce := sim.logger.Check(zap.DebugLevel, "turn decision"); ce != nil {
		ce.Write(
			zap.Ints("kept", opt.Faces),
			zap.Int("points", opt.Points),
			zap.Stringer("action", d.Action),
			zap.Int("turn_score", s.TurnScore),
			zap.Int("dice_left", len(s.Hand)),
		)
	}

	if target, ok := s.Game.Target(); ok && s.Game.OwnScore+s.TurnScore >= target {
		return sim.bank(s, "target reached")
	}
	if len(s.Hand) == 0 {
		if !sim.policy.RerollOnClear() {
			return sim.bank(s, "all dice scored")
		}
		s.Hand = FullHand()
		s.Clears++
		if sim.rules.ResetRollsOnClear {
			s.Rolls = 0
		}
	}
	if d.Action == Bank && sim.bankAllowed(s) {
		return sim.bank(s, "policy")
	}
	if sim.rules.MaxRolls > 0 && s.TotalRolls >= sim.rules.MaxRolls {
		return sim.bank(s, "roll limit")
	}
	s.Phase = Rolling
	return s.Phase
}

func (sim *Simulator) bankAllowed(s *State) bool {
	return !sim.rules.MinBank.Forbids(s.TurnScore, s.Rolls)
}

func (sim *Simulator) bank(s *State, reason string) Phase {
	s.Phase = Banked
	if ce := sim.logger.Check(zap.DebugLevel, "turn banked"); ce != nil {
		ce.Write(zap.String("reason", reason), zap.Int("score", s.TurnScore), zap.Int("rolls", s.TotalRolls))
	}
	return s.Phase
}

// removeIndices drops hand[i] for every i in idx.
func removeIndices(hand, idx []int) []int {
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}
	out := make([]int, 0, len(hand)-len(idx))
	for i, pos := range hand {
		if !drop[i] {
			out = append(out, pos)
		}
	}
	return out
}

// LegalActions returns the actions that lead to a distinct outcome after
// taking option choice: Bank when it would end the turn, Continue when it
// would roll again. A turn forced to bank yields only Bank; a turn forbidden
// to bank yields only Continue.
//
// Precondition: s.Phase == Deciding and choice indexes s.Options.
func (sim *Simulator) LegalActions(s *State, choice int) []Action {
	var out []Action
	if sim.Apply(s.Clone(), Decision{Choice: choice, Action: Bank}) == Banked {
		out = append(out, Bank)
	}
	if sim.Apply(s.Clone(), Decision{Choice: choice, Action: Continue}) == Rolling {
		out = append(out, Continue)
	}
	return out
}

// Run steps s until the turn ends.
//
// Precondition: src must be non-nil.
func (sim *Simulator) Run(s *State, src dice.Source) Result {
	for !s.Phase.Terminal() {
		sim.Step(s, src)
	}
	return s.Result()
}

// Play runs a fresh turn for pool.
func (sim *Simulator) Play(pool *dice.Pool, g GameContext, src dice.Source) Result {
	return sim.Run(sim.Begin(pool, g), src)
}
