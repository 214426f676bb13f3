package calculator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/loadout"
	"github.com/cory-johannsen/kcddice/internal/game/match"
	"github.com/cory-johannsen/kcddice/internal/game/montecarlo"
	"github.com/cory-johannsen/kcddice/internal/game/playbook"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// ComboConfig tunes SimulateCombo.
type ComboConfig struct {
	// Profile plays the turns; empty uses the service default.
	Profile string
	// Trials <= 0 uses the service default.
	Trials int
	// Seed 0 uses the service estimator's seed.
	Seed uint64
	// Rules nil uses the service turn rules.
	Rules *ruleset.TurnRules
	// Exact also computes the exact turn distribution.
	Exact    bool
	Progress montecarlo.ProgressFunc
}

// ComboResult is a turn-level simulation of one pool.
type ComboResult struct {
	RunID   uuid.UUID
	Profile string
	Result  montecarlo.Result
	// Exact is set when ComboConfig.Exact was requested.
	Exact *montecarlo.ExactResult
}

// SimulateCombo samples turns of pool under a profile.
//
// Postcondition: Returns montecarlo.ErrCombinatorialOverflow, before any
// sampling, when an exact distribution was requested and its enumeration
// would exceed the estimator's limit. A cancelled run returns its partial
// result with Result.Cancelled set and a nil error.
func (s *Service) SimulateCombo(ctx context.Context, pool *dice.Pool, cfg ComboConfig) (ComboResult, error) {
	if pool == nil {
		return ComboResult{}, fmt.Errorf("calculator: no pool: %w", dice.ErrInvalidPoolSize)
	}
	id, p, err := s.resolve(cfg.Profile)
	if err != nil {
		return ComboResult{}, err
	}
	rules := s.turnRules
	if cfg.Rules != nil {
		rules = *cfg.Rules
	}
	if err := rules.Validate(); err != nil {
		return ComboResult{}, fmt.Errorf("calculator: %w", err)
	}
	trials := cfg.Trials
	if trials <= 0 {
		trials = s.trials
	}
	est := s.estimator(cfg.Seed)
	spec := montecarlo.TurnSpec{Policy: p, Pool: pool, Rules: rules}

	run := newRun(KindCombo, pool.String(), id)
	run.Seed = est.Seed
	out := ComboResult{RunID: run.ID, Profile: id}
	if cfg.Exact {
		exact, err := est.Exhaustive(spec)
		if err != nil {
			return ComboResult{}, err
		}
		out.Exact = &exact
	}
	res, err := est.RunTurns(ctx, spec, trials, cfg.Progress)
	if err != nil {
		return ComboResult{}, err
	}
	out.Result = res

	run.Requested, run.Completed, run.Cancelled = res.Requested, res.Trials, res.Cancelled
	run.Mean, run.StdDev, run.BustRate = res.Mean(), res.StdDev(), res.BustRate()
	run.Detail = map[string]any{
		"max_score":  res.MaxScore,
		"avg_rolls":  res.AvgRolls(),
		"clear_rate": res.ClearRate(),
		"top_scores": res.TopScores(10),
	}
	if out.Exact != nil {
		run.Detail["exact_mean"] = out.Exact.Mean
		run.Detail["exact_bust"] = out.Exact.PBust
	}
	s.record(ctx, run)
	return out, nil
}

// GameRun is a game-level simulation.
type GameRun struct {
	RunID  uuid.UUID
	Player string
	AI     string
	// Result counts side 0 as the player and side 1 as the AI.
	Result montecarlo.GameResult
}

// SimulateGame plays games full games of the player's pool, under the
// service's player profile, against aiPool under aiProfile. A negative
// pointCap uses the configured cap; zero is a valid cap where the first
// positive bank wins.
func (s *Service) SimulateGame(ctx context.Context, playerPool, aiPool *dice.Pool, aiProfile string, games, pointCap int) (GameRun, error) {
	if playerPool == nil || aiPool == nil {
		return GameRun{}, fmt.Errorf("calculator: both sides need a pool: %w", dice.ErrInvalidPoolSize)
	}
	playerID, player, err := s.resolve(s.player)
	if err != nil {
		return GameRun{}, err
	}
	aiID, ai, err := s.resolve(aiProfile)
	if err != nil {
		return GameRun{}, err
	}
	rules := s.gameRules
	if pointCap >= 0 {
		rules.PointCap = pointCap
	}
	spec := montecarlo.GameSpec{
		Sides: [2]match.Side{
			{Name: "player", Policy: player, Pool: playerPool, Rules: s.turnRules},
			{Name: aiID, Policy: ai, Pool: aiPool, Rules: s.turnRules},
		},
		Rules: rules,
	}

	run := newRun(KindGame, playerPool.String()+" vs "+aiPool.String(), playerID)
	run.Seed = s.est.Seed
	res, err := s.est.RunGames(ctx, spec, games, nil)
	if err != nil {
		return GameRun{}, err
	}
	run.Requested, run.Completed, run.Cancelled = res.Requested, res.Games, res.Cancelled
	run.Mean, run.WinRate = res.AvgScore(0), res.WinRate(0)
	run.Detail = map[string]any{
		"ai_profile":      aiID,
		"point_cap":       rules.PointCap,
		"ai_win_rate":     res.WinRate(1),
		"draw_rate":       res.DrawRate(),
		"opener_win_rate": res.OpenerWinRate(),
		"avg_margin":      res.AvgMargin(),
		"avg_turns":       res.AvgTurns(),
	}
	s.record(ctx, run)
	return GameRun{RunID: run.ID, Player: playerID, AI: aiID, Result: res}, nil
}

// LiveTurn is the state of a turn in progress, as read off the table.
type LiveTurn struct {
	Pool *dice.Pool
	// Hand lists the rolled pool positions; nil means all six.
	Hand      []int
	Faces     []int
	TurnScore int
	Rolls     int
	// Profile plays out the rest of the turn; empty uses the service
	// default.
	Profile string
	// Opponent plays the other side in game rollouts; empty uses Profile.
	Opponent string
	// Trials per decision; <= 0 uses the service default.
	Trials int
	Seed   uint64
}

// Suggestion is a ranked play book.
type Suggestion struct {
	RunID   uuid.UUID
	Metric  playbook.Metric
	Mode    playbook.Mode
	Options []playbook.Recommendation
}

// SuggestPlayBook ranks the decisions available on a live roll. In a game
// with a known opponent pool, rollout mode ranks by win probability;
// otherwise decisions rank by the profile's risk-adjusted expected score.
func (s *Service) SuggestPlayBook(ctx context.Context, live LiveTurn, g turn.GameContext, mode playbook.Mode) (Suggestion, error) {
	id, p, err := s.resolve(live.Profile)
	if err != nil {
		return Suggestion{}, err
	}
	var opp turn.Policy
	if live.Opponent != "" {
		if _, opp, err = s.resolve(live.Opponent); err != nil {
			return Suggestion{}, err
		}
	}
	var lambda float64
	if prof, ok := s.policies.Profile(id); ok {
		lambda = prof.RiskAversion
	}
	metric := playbook.MetricRiskAdjustedEV
	if mode == playbook.ModeRollout && g.InGame && g.Opponent != nil {
		metric = playbook.MetricWinProbability
	}
	trials := live.Trials
	if trials <= 0 {
		trials = s.pbTrials
	}
	seed := live.Seed
	if seed == 0 {
		seed = s.est.Seed
	}

	run := newRun(KindPlaybook, fmt.Sprint(live.Faces), id)
	run.Seed = seed
	recs, err := s.recommender.Suggest(ctx, playbook.Request{
		Pool:         live.Pool,
		Hand:         live.Hand,
		Faces:        live.Faces,
		TurnScore:    live.TurnScore,
		Rolls:        live.Rolls,
		Game:         g,
		Policy:       p,
		Opponent:     opp,
		Rules:        s.turnRules,
		Mode:         mode,
		Metric:       metric,
		RiskAversion: lambda,
		Trials:       trials,
		Seed:         seed,
	})
	if err != nil {
		return Suggestion{}, err
	}
	run.Requested = len(recs) * trials
	if mode == playbook.ModeFast {
		run.Requested = 0
	}
	for _, r := range recs {
		run.Completed += r.Trials
		run.Cancelled = run.Cancelled || r.Partial
	}
	run.Detail = map[string]any{"mode": mode.String(), "metric": metric.String(), "options": len(recs)}
	if len(recs) > 0 {
		top := recs[0]
		run.Mean, run.StdDev, run.BustRate, run.WinRate = top.ExpectedScore, top.StdDev, top.BustRate, top.WinProbability
		run.Detail["best_faces"] = top.Option.Faces
		run.Detail["best_action"] = top.Decision.Action.String()
	}
	s.record(ctx, run)
	return Suggestion{RunID: run.ID, Metric: metric, Mode: mode, Options: recs}, nil
}

// LoadoutRun is a ranking of inventory loadouts.
type LoadoutRun struct {
	RunID   uuid.UUID
	Profile string
	Ranking loadout.Ranking
}

// RankLoadouts ranks six-dice selections from inventory by mean turn score
// under profile, evaluating at most maxCandidates loadouts with trials turns each.
// The top ten are returned.
func (s *Service) RankLoadouts(ctx context.Context, inventory dice.Inventory, profile string, trials, maxCandidates int) (LoadoutRun, error) {
	id, p, err := s.resolve(profile)
	if err != nil {
		return LoadoutRun{}, err
	}
	if trials <= 0 {
		trials = s.trials
	}
	run := newRun(KindLoadout, fmt.Sprintf("%d dice", inventory.Total()), id)
	run.Seed = s.est.Seed
	ranking, err := loadout.NewRanker(s.est, s.logger).Rank(ctx, loadout.RankRequest{
		Inventory:     inventory,
		Catalog:       s.catalog,
		Policy:        p,
		Rules:         s.turnRules,
		Trials:        trials,
		MaxCandidates: maxCandidates,
		Top:           10,
	})
	if err != nil {
		return LoadoutRun{}, err
	}
	run.Requested, run.Completed, run.Cancelled = ranking.Space, ranking.Evaluated, ranking.Cancelled
	run.Detail = map[string]any{"sampled": ranking.Sampled, "trials": trials}
	if len(ranking.Loadouts) > 0 {
		best := ranking.Best()
		run.Mean, run.StdDev, run.BustRate = best.Result.Mean(), best.Result.StdDev(), best.Result.BustRate()
		run.Detail["best"] = best.IDs
	}
	s.record(ctx, run)
	return LoadoutRun{RunID: run.ID, Profile: id, Ranking: ranking}, nil
}
