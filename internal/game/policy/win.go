package policy

import (
	"context"

	"go.uber.org/zap"

	"github.com/cory-johannsen/kcddice/internal/game/match"
	"github.com/cory-johannsen/kcddice/internal/game/montecarlo"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// continuation plays base's decisions with the reroll-on-clear setting of
// the profile being evaluated.
type continuation struct {
	turn.Policy
	reroll bool
}

func (c continuation) RerollOnClear() bool { return c.reroll }

// winPolicy rolls out every legal decision to the end of the game and keeps
// the one with the highest win probability. Outside a game, or against an
// unknown opponent pool, it defers to its base profile.
type winPolicy struct {
	profiled
	engine   *scoring.Engine
	base     turn.Policy
	opponent turn.Policy
	est      *montecarlo.Estimator
	logger   *zap.Logger
}

func (w *winPolicy) rules() ruleset.TurnRules {
	return w.TurnRules(ruleset.DefaultTurnRules())
}

type candidate struct {
	d     turn.Decision
	win   float64
	mean  float64
	order int
}

func (w *winPolicy) Decide(s *turn.State, options []scoring.Option, g turn.GameContext) turn.Decision {
	if !g.InGame || g.Opponent == nil {
		return w.base.Decide(s, options, g)
	}
	me := continuation{Policy: w.base, reroll: w.p.RerollOnClear}
	sim := turn.NewSimulator(turn.Config{Engine: w.engine, Policy: me, Rules: w.rules()})

	var cands []candidate
	for i := range options {
		for _, a := range sim.LegalActions(s, i) {
			cands = append(cands, candidate{d: turn.Decision{Choice: i, Action: a}, order: len(cands)})
		}
	}
	if len(cands) == 1 {
		return cands[0].d
	}

	spec := montecarlo.RolloutSpec{
		State: s,
		Game: &montecarlo.GameSpec{
			Sides: [2]match.Side{
				{Name: w.p.ID, Policy: me, Pool: s.Pool, Rules: w.rules()},
				{Name: "opponent", Policy: w.opponent, Pool: g.Opponent, Rules: ruleset.DefaultTurnRules()},
			},
			Rules: g.Rules,
		},
		GameState: montecarlo.GameStateFor(g),
	}
	trials := max(1, w.p.RolloutBudget/len(cands))
	best := -1
	for k := range cands {
		c := &cands[k]
		spec.Decision = c.d
		seed := montecarlo.DecisionSeed(0, s, options[c.d.Choice], c.d.Action)
		stats, err := w.est.Rollout(context.Background(), spec, trials, seed)
		if err != nil {
			w.logger.Warn("win policy rollout failed; using base profile",
				zap.String("profile", w.p.ID),
				zap.Error(err),
			)
			return w.base.Decide(s, options, g)
		}
		c.win, c.mean = stats.WinProbability(), stats.Mean()
		if best < 0 || better(*c, cands[best]) {
			best = k
		}
	}
	return cands[best].d
}

func better(a, b candidate) bool {
	if a.win != b.win {
		return a.win > b.win
	}
	if a.mean != b.mean {
		return a.mean > b.mean
	}
	return a.order < b.order
}
