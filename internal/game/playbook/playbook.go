// Package playbook ranks the decisions available on a live turn.
package playbook

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/match"
	"github.com/cory-johannsen/kcddice/internal/game/montecarlo"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// Mode selects how each decision is evaluated.
type Mode int

const (
	// ModeRollout plays each decision out by Monte Carlo rollouts.
	ModeRollout Mode = iota
	// ModeFast looks one roll ahead analytically. It does not estimate win
	// probability and always ranks by risk-adjusted expected score.
	ModeFast
)

func (m Mode) String() string {
	if m == ModeFast {
		return "fast"
	}
	return "rollout"
}

// ParseMode parses "rollout" or "fast".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "rollout", "":
		return ModeRollout, nil
	case "fast":
		return ModeFast, nil
	}
	return 0, fmt.Errorf("playbook: unknown mode %q", s)
}

// Metric selects the ranking key.
type Metric int

const (
	MetricWinProbability Metric = iota
	MetricRiskAdjustedEV
)

func (m Metric) String() string {
	if m == MetricRiskAdjustedEV {
		return "risk_adjusted_ev"
	}
	return "win_probability"
}

const defaultTrials = 400

// Request describes a live turn.
type Request struct {
	Pool *dice.Pool
	// Hand lists the pool positions that were rolled; nil means all six.
	Hand []int
	// Faces is index-aligned with Hand.
	Faces []int
	// TurnScore is the score accumulated this turn before this roll.
	TurnScore int
	// Rolls is the number of rolls taken this turn before this roll.
	Rolls int
	Game  turn.GameContext
	// Policy plays the rest of the turn, and the player's later turns.
	Policy turn.Policy
	// Opponent plays the other side in game rollouts; nil uses Policy.
	Opponent turn.Policy
	Rules    ruleset.TurnRules
	Mode     Mode
	Metric   Metric
	// RiskAversion is lambda in mean - lambda*sd.
	RiskAversion float64
	// Trials is the number of rollouts per decision; <= 0 uses 400.
	Trials int
	Seed   uint64
}

// Recommendation is one ranked decision.
type Recommendation struct {
	Rank     int
	Decision turn.Decision
	Option   scoring.Option
	// WinProbability is zero when not estimated.
	WinProbability float64
	// ExpectedScore is the mean final score of the live turn.
	ExpectedScore float64
	StdDev        float64
	BustRate      float64
	RiskAdjusted  float64
	Trials        int
	// Partial is set when cancellation cut the rollouts short.
	Partial bool
}

// Value returns the ranking key of r under metric m.
func (r Recommendation) Value(m Metric) float64 {
	if m == MetricWinProbability {
		return r.WinProbability
	}
	return r.RiskAdjusted
}

// Recommender ranks live decisions.
type Recommender struct {
	est    *montecarlo.Estimator
	logger *zap.Logger
}

// NewRecommender builds a Recommender that scores with est.Engine and
// evaluates up to est.Workers decisions at once.
//
// Precondition: est and est.Engine must be non-nil.
func NewRecommender(est *montecarlo.Estimator, logger *zap.Logger) *Recommender {
	if est == nil || est.Engine == nil {
		panic("playbook.NewRecommender: estimator with an engine required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recommender{est: est, logger: logger}
}

// Suggest evaluates the live roll once, enumerates every legal (option,
// action) pair, evaluates each, and returns them best first. A bust returns
// no recommendations.
//
// Rollout seeds derive from each decision's content, and ties are broken by
// option points, faces, kept dice and action, so the ranking does not depend on the
// order the dice were listed in.
//
// Postcondition: on cancellation returns what was evaluated with Partial set
// and a nil error.
func (r *Recommender) Suggest(ctx context.Context, req Request) ([]Recommendation, error) {
	if err := r.validate(req); err != nil {
		return nil, err
	}
	sim := turn.NewSimulator(turn.Config{Engine: r.est.Engine, Policy: req.Policy, Rules: req.Rules, Logger: r.est.Logger})
	s := r.liveState(sim, req)
	if sim.Step(s, nil) == turn.Busted {
		r.logger.Debug("live roll busted", zap.Ints("faces", s.Faces))
		return nil, nil
	}

	var recs []Recommendation
	for i, o := range s.Options {
		for _, a := range sim.LegalActions(s, i) {
			recs = append(recs, Recommendation{Decision: turn.Decision{Choice: i, Action: a}, Option: o})
		}
	}

	metric := req.Metric
	if req.Mode == ModeFast {
		metric = MetricRiskAdjustedEV
		for k := range recs {
			r.fast(s, sim, &recs[k], req.RiskAversion)
		}
	} else if err := r.rollouts(ctx, s, req, recs); err != nil {
		return nil, err
	}

	sort.SliceStable(recs, func(i, j int) bool { return less(recs[i], recs[j], metric) })
	for k := range recs {
		recs[k].Rank = k + 1
	}
	return recs, nil
}

func (r *Recommender) validate(req Request) error {
	if req.Pool == nil {
		return fmt.Errorf("playbook: request has no pool: %w", dice.ErrInvalidPoolSize)
	}
	if req.Policy == nil {
		return errors.New("playbook: request has no policy")
	}
	hand := req.Hand
	if hand == nil {
		hand = turn.FullHand()
	}
	if len(req.Faces) != len(hand) || len(hand) == 0 || len(hand) > dice.PoolSize {
		return fmt.Errorf("playbook: %d faces for %d dice in hand", len(req.Faces), len(hand))
	}
	seen := make(map[int]bool, len(hand))
	for _, pos := range hand {
		if pos < 0 || pos >= dice.PoolSize || seen[pos] {
			return fmt.Errorf("playbook: invalid hand %v", hand)
		}
		seen[pos] = true
	}
	for _, f := range req.Faces {
		if f < 1 || f > dice.Faces {
			return fmt.Errorf("playbook: face %d out of range [1, 6]", f)
		}
	}
	if req.Mode == ModeRollout && req.Metric == MetricWinProbability && (!req.Game.InGame || req.Game.Opponent == nil) {
		return errors.New("playbook: win probability needs a game context with an opponent pool")
	}
	if req.Game.InGame {
		if err := req.Game.Rules.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// liveState builds the Rolling-phase state of the request with the hand in
// ascending position order, then places the faces.
func (r *Recommender) liveState(sim *turn.Simulator, req Request) *turn.State {
	hand := req.Hand
	if hand == nil {
		hand = turn.FullHand()
	}
	type die struct{ pos, face int }
	ds := make([]die, len(hand))
	for i := range hand {
		ds[i] = die{hand[i], req.Faces[i]}
	}
	slices.SortFunc(ds, func(a, b die) int { return a.pos - b.pos })
	faces := make([]int, len(ds))
	s := sim.Begin(req.Pool, req.Game)
	s.Hand = s.Hand[:0]
	for i, d := range ds {
		s.Hand = append(s.Hand, d.pos)
		faces[i] = d.face
	}
	s.TurnScore = req.TurnScore
	s.Rolls = req.Rolls
	s.TotalRolls = req.Rolls
	sim.SetFaces(s, faces)
	return s
}

func (r *Recommender) fast(s *turn.State, sim *turn.Simulator, rec *Recommendation, lambda float64) {
	t := float64(s.TurnScore + rec.Option.Points)
	rec.ExpectedScore, rec.RiskAdjusted = t, t
	if rec.Decision.Action == turn.Bank {
		return
	}
	ds := s.DiceAfter(rec.Option, sim.Policy().RerollOnClear())
	a := r.est.Engine.Analyze(ds)
	rec.ExpectedScore, rec.StdDev = a.After(t)
	rec.BustRate = a.PBust
	rec.RiskAdjusted = rec.ExpectedScore - lambda*rec.StdDev
}

func (r *Recommender) rollouts(ctx context.Context, s *turn.State, req Request, recs []Recommendation) error {
	trials := req.Trials
	if trials <= 0 {
		trials = defaultTrials
	}
	base := montecarlo.RolloutSpec{State: s, Policy: req.Policy, Rules: req.Rules}
	if req.Game.InGame && req.Game.Opponent != nil {
		opp := req.Opponent
		if opp == nil {
			opp = req.Policy
		}
		base.Game = &montecarlo.GameSpec{
			Sides: [2]match.Side{
				{Name: "player", Policy: req.Policy, Pool: req.Pool, Rules: req.Rules},
				{Name: "opponent", Policy: opp, Pool: req.Game.Opponent, Rules: ruleset.DefaultTurnRules()},
			},
			Rules: req.Game.Rules,
		}
		base.GameState = montecarlo.GameStateFor(req.Game)
	}

	workers := r.est.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for k := range recs {
		rec := &recs[k]
		g.Go(func() error {
			spec := base
			spec.Decision = rec.Decision
			seed := montecarlo.DecisionSeed(req.Seed, s, rec.Option, rec.Decision.Action)
			stats, err := r.est.Rollout(ctx, spec, trials, seed)
			if err != nil {
				return err
			}
			rec.Trials = stats.Trials
			rec.Partial = stats.Cancelled
			rec.WinProbability = stats.WinProbability()
			rec.ExpectedScore = stats.Mean()
			rec.StdDev = stats.StdDev()
			rec.BustRate = stats.BustRate()
			rec.RiskAdjusted = stats.RiskAdjusted(req.RiskAversion)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("playbook: rollout: %w", err)
	}
	return nil
}

// less orders recommendations best first: by the metric, then risk-adjusted
// value, then option points, then faces, then kept die IDs, then Bank before
// Continue.
func less(a, b Recommendation, m Metric) bool {
	if va, vb := a.Value(m), b.Value(m); va != vb {
		return va > vb
	}
	if a.RiskAdjusted != b.RiskAdjusted {
		return a.RiskAdjusted > b.RiskAdjusted
	}
	if a.Option.Points != b.Option.Points {
		return a.Option.Points > b.Option.Points
	}
	if c := slices.Compare(a.Option.Faces, b.Option.Faces); c != 0 {
		return c < 0
	}
	if c := slices.Compare(a.Option.DieIDs, b.Option.DieIDs); c != 0 {
		return c < 0
	}
	return a.Decision.Action < b.Decision.Action
}
