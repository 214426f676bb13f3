package montecarlo

import (
	"context"
	"errors"
	"fmt"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/match"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// RolloutSpec is one candidate decision on a live turn.
type RolloutSpec struct {
	// State is the live turn, in the Deciding phase. It is not modified.
	State    *turn.State
	Decision turn.Decision
	// Policy finishes the live turn under Rules when Game is nil.
	Policy turn.Policy
	Rules  ruleset.TurnRules
	// Game, when non-nil, continues the game after the live turn. The live
	// turn is finished by the side GameState.Active.
	Game      *GameSpec
	GameState match.State
}

// RolloutStats aggregates the rollouts of one decision.
type RolloutStats struct {
	Trials int
	Wins   int
	Draws  int
	Busts  int
	// Scores is the histogram of the live turn's final score.
	Scores    histogram
	Cancelled bool
}

// WinProbability returns (Wins + Draws/2) / Trials. It is 0 without a game.
func (r RolloutStats) WinProbability() float64 {
	if r.Trials == 0 {
		return 0
	}
	return (float64(r.Wins) + float64(r.Draws)/2) / float64(r.Trials)
}

// Mean returns the expected final score of the live turn.
func (r RolloutStats) Mean() float64 {
	m, _ := r.Scores.moments()
	return m
}

// StdDev returns the standard deviation of the live turn's final score.
func (r RolloutStats) StdDev() float64 {
	_, sd := r.Scores.moments()
	return sd
}

// RiskAdjusted returns Mean - lambda*StdDev.
func (r RolloutStats) RiskAdjusted(lambda float64) float64 {
	m, sd := r.Scores.moments()
	return m - lambda*sd
}

// BustRate returns the fraction of rollouts in which the live turn busted.
func (r RolloutStats) BustRate() float64 {
	if r.Trials == 0 {
		return 0
	}
	return float64(r.Busts) / float64(r.Trials)
}

// Rollout applies spec.Decision to copies of the live turn and plays each copy
// to the end of the turn, and of the game when spec.Game is set. Trial i draws
// from dice.NewSeededSource(seed, i). Trials run sequentially on the calling
// goroutine so rollouts can be nested inside parallel estimations.
//
// Precondition: spec.State.Phase == turn.Deciding and spec.Decision.Choice
// indexes spec.State.Options.
// Postcondition: on cancellation returns the completed trials with Cancelled
// set and a nil error.
func (e *Estimator) Rollout(ctx context.Context, spec RolloutSpec, trials int, seed uint64) (RolloutStats, error) {
	if spec.State == nil || spec.State.Phase != turn.Deciding {
		return RolloutStats{}, errors.New("montecarlo: rollout needs a turn in the deciding phase")
	}
	if trials <= 0 {
		return RolloutStats{}, fmt.Errorf("montecarlo: trials must be positive, got %d", trials)
	}
	if e.Engine == nil {
		return RolloutStats{}, errors.New("montecarlo: estimator has no engine")
	}

	var (
		sim *turn.Simulator
		cfg match.Config
		me  int
	)
	if spec.Game != nil {
		cfg = match.Config{Engine: e.Engine, Sides: spec.Game.Sides, Rules: spec.Game.Rules, First: spec.GameState.First, Logger: e.Logger}
		g, err := match.Resume(cfg, spec.GameState)
		if err != nil {
			return RolloutStats{}, err
		}
		me = spec.GameState.Active
		sim = g.Simulator(me)
	} else {
		if spec.Policy == nil {
			return RolloutStats{}, errors.New("montecarlo: rollout without a game needs a policy")
		}
		sim = turn.NewSimulator(turn.Config{Engine: e.Engine, Policy: spec.Policy, Rules: spec.Rules, Logger: e.Logger})
	}

	stats := RolloutStats{Scores: histogram{}}
	for i := 0; i < trials; i++ {
		if ctx.Err() != nil {
			stats.Cancelled = true
			break
		}
		src := dice.NewSeededSource(seed, uint64(i))
		s := spec.State.Clone()
		sim.Apply(s, spec.Decision)
		res := sim.Run(s, src)

		stats.Trials++
		stats.Scores[res.Score]++
		if res.Busted {
			stats.Busts++
		}
		if spec.Game == nil {
			continue
		}
		g, err := match.Resume(cfg, spec.GameState)
		if err != nil {
			return stats, err
		}
		g.FinishTurn(res)
		switch out := g.Play(src); out.Winner {
		case me:
			stats.Wins++
		case match.Draw:
			stats.Draws++
		}
	}
	return stats, nil
}

// GameStateFor rebuilds the game state a live turn is played in from its
// context, with the live side as side 0 and active. A final turn becomes a
// game whose other side already reached the cap; an extra round becomes the
// opening turn of a sudden-death round.
func GameStateFor(g turn.GameContext) match.State {
	st := match.NewState(0)
	st.Scores = [2]int{g.OwnScore, g.OpponentScore}
	st.Turns = max(0, g.Turn-1)
	switch {
	case g.ExtraRound:
		st.ExtraRounds = 1
	case g.FinalTurn:
		st.Leader = 1
		st.First = 1
	}
	return st
}
