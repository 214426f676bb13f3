// Package match simulates a full game between two sides that alternate turns
// until one reaches the point cap.
package match

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// Draw is the Winner of a drawn game.
const Draw = -1

// Side is one participant: a policy rolling a pool under turn rules.
type Side struct {
	Name   string
	Policy turn.Policy
	Pool   *dice.Pool
	Rules  ruleset.TurnRules
}

// Config assembles a Game.
type Config struct {
	Engine *scoring.Engine
	Sides  [2]Side
	Rules  ruleset.GameRules
	// First is the side (0 or 1) that takes the opening turn.
	First  int
	Logger *zap.Logger
}

// Validate reports a missing engine, policy, or pool, or invalid game rules.
func (c Config) Validate() error {
	if c.Engine == nil {
		return errors.New("match: engine must not be nil")
	}
	for i, s := range c.Sides {
		if s.Policy == nil {
			return fmt.Errorf("match: side %d has no policy", i)
		}
		if s.Pool == nil {
			return fmt.Errorf("match: side %d has no pool: %w", i, dice.ErrInvalidPoolSize)
		}
	}
	if c.First != 0 && c.First != 1 {
		return fmt.Errorf("match: first side must be 0 or 1, got %d", c.First)
	}
	return c.Rules.Validate()
}

// State is the game state between turns.
//
// Invariant: Scores never decrease; Active is 0 or 1.
type State struct {
	Scores [2]int
	Active int
	First  int
	// Turns counts completed turns.
	Turns int
	// Leader is the side that reached the cap first under EndFinalTurn, or -1.
	Leader int
	// ExtraRounds counts sudden-death rounds started.
	ExtraRounds int
	// RoundTurns counts turns played in the current sudden-death round.
	RoundTurns int
	Finished   bool
	Winner     int
}

// NewState returns the opening state of a game where first moves first.
func NewState(first int) State {
	return State{Active: first, First: first, Leader: -1, Winner: Draw}
}

// TurnSummary reports one completed turn.
type TurnSummary struct {
	Side   int
	Result turn.Result
	Scores [2]int
}

// Outcome is the result of a finished game.
type Outcome struct {
	// Winner is 0, 1, or Draw.
	Winner int
	Scores [2]int
	Turns  int
	First  int
	// Margin is Scores[0] - Scores[1].
	Margin      int
	ExtraRounds int
}

// Game drives one game as an explicit state machine advanced by PlayTurn or
// FinishTurn.
type Game struct {
	cfg    Config
	sims   [2]*turn.Simulator
	state  State
	logger *zap.Logger
}

// New starts a game.
//
// Postcondition: Returns a Game with both scores 0, or a validation error.
func New(cfg Config) (*Game, error) {
	return Resume(cfg, NewState(cfg.First))
}

// Resume continues a game from st.
//
// Precondition: st must come from NewState or a previous Game.State().
func Resume(cfg Config, st State) (*Game, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Game{cfg: cfg, state: st, logger: logger}
	for i, s := range cfg.Sides {
		g.sims[i] = turn.NewSimulator(turn.Config{
			Engine: cfg.Engine,
			Policy: s.Policy,
			Rules:  s.Rules,
			Logger: logger,
		})
	}
	return g, nil
}

// State returns a copy of the current game state.
func (g *Game) State() State { return g.state }

// Over reports whether the game has finished.
func (g *Game) Over() bool { return g.state.Finished }

// Simulator returns the turn simulator of side.
func (g *Game) Simulator(side int) *turn.Simulator { return g.sims[side] }

// Context returns the turn context for side at the current state.
func (g *Game) Context(side int) turn.GameContext {
	st := g.state
	ctx := turn.GameContext{
		InGame:        true,
		OwnScore:      st.Scores[side],
		OpponentScore: st.Scores[1-side],
		PointCap:      g.cfg.Rules.PointCap,
		Turn:          st.Turns + 1,
		Opponent:      g.cfg.Sides[1-side].Pool,
		Rules:         g.cfg.Rules,
	}
	switch {
	case st.ExtraRounds > 0 && st.RoundTurns == 0:
		ctx.ExtraRound = true
	case st.ExtraRounds > 0:
		ctx.FinalTurn = true
	case st.Leader >= 0 && side != st.Leader:
		ctx.FinalTurn = true
	}
	return ctx
}

// PlayTurn plays the active side's turn and commits it.
//
// Precondition: !g.Over(); src must be non-nil.
func (g *Game) PlayTurn(src dice.Source) TurnSummary {
	side := g.state.Active
	sim := g.sims[side]
	res := sim.Play(g.cfg.Sides[side].Pool, g.Context(side), src)
	g.FinishTurn(res)
	return TurnSummary{Side: side, Result: res, Scores: g.state.Scores}
}

// FinishTurn commits a turn result for the active side and advances the
// game: it checks the cap, applies the end and tie rules, and passes the
// turn.
//
// Precondition: !g.Over(); panics otherwise.
func (g *Game) FinishTurn(res turn.Result) {
	st := &g.state
	if st.Finished {
		panic("match: FinishTurn called on a finished game")
	}
	side := st.Active
	if !res.Busted {
		st.Scores[side] += res.Score
	}
	st.Turns++

	switch {
	case st.ExtraRounds > 0:
		st.RoundTurns++
		if st.RoundTurns == 2 {
			g.settle()
			return
		}
	case st.Leader >= 0:
		g.settle()
		return
	case g.reached(side):
		if g.cfg.Rules.End == ruleset.EndFinalTurn {
			st.Leader = side
		} else {
			g.finish(side)
			return
		}
	}

	if g.cfg.Rules.MaxTurns > 0 && st.Turns >= g.cfg.Rules.MaxTurns {
		g.finish(g.higher())
		return
	}
	st.Active = 1 - side
}

// reached reports whether side has a positive score at or above the cap.
func (g *Game) reached(side int) bool {
	s := g.state.Scores[side]
	return s > 0 && s >= g.cfg.Rules.PointCap
}

func (g *Game) higher() int {
	switch s := g.state.Scores; {
	case s[0] > s[1]:
		return 0
	case s[1] > s[0]:
		return 1
	}
	return Draw
}

// settle decides the game after a final turn or a completed sudden-death
// round; an unresolved tie starts another round when the tie rule allows.
func (g *Game) settle() {
	st := &g.state
	if w := g.higher(); w != Draw {
		g.finish(w)
		return
	}
	if g.cfg.Rules.Tie == ruleset.TieSuddenDeath && st.ExtraRounds < g.cfg.Rules.MaxExtraRounds &&
		(g.cfg.Rules.MaxTurns <= 0 || st.Turns < g.cfg.Rules.MaxTurns) {
		st.ExtraRounds++
		st.RoundTurns = 0
		st.Active = st.First
		return
	}
	g.finish(Draw)
}

func (g *Game) finish(winner int) {
	g.state.Finished = true
	g.state.Winner = winner
	if ce := g.logger.Check(zap.DebugLevel, "game over"); ce != nil {
		ce.Write(
			zap.Int("winner", winner),
			zap.Ints("scores", g.state.Scores[:]),
			zap.Int("turns", g.state.Turns),
		)
	}
}

// Outcome returns the result of a finished game.
//
// Precondition: g.Over().
func (g *Game) Outcome() Outcome {
	st := g.state
	if !st.Finished {
		panic("match: Outcome called before the game finished")
	}
	return Outcome{
		Winner:      st.Winner,
		Scores:      st.Scores,
		Turns:       st.Turns,
		First:       st.First,
		Margin:      st.Scores[0] - st.Scores[1],
		ExtraRounds: st.ExtraRounds,
	}
}

// Play runs turns until the game is over.
//
// Precondition: src must be non-nil.
func (g *Game) Play(src dice.Source) Outcome {
	for !g.state.Finished {
		g.PlayTurn(src)
	}
	return g.Outcome()
}
