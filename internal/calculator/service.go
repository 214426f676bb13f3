// Package calculator is the entry point for callers of the dice engine: it
// resolves die and profile IDs, applies configured defaults, runs the
// simulators, and records each run.
package calculator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/loadout"
	"github.com/cory-johannsen/kcddice/internal/game/montecarlo"
	"github.com/cory-johannsen/kcddice/internal/game/playbook"
	"github.com/cory-johannsen/kcddice/internal/game/policy"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// ErrUnknownDie is returned for a die ID missing from the catalog.
var ErrUnknownDie = errors.New("unknown die")

const (
	defaultProfile        = "balanced"
	defaultTrials         = 10000
	defaultPlaybookTrials = 400
)

// Config assembles a Service.
type Config struct {
	Engine   *scoring.Engine
	Catalog  *dice.Catalog
	Policies *policy.Registry
	// Estimator runs simulations; nil builds one over Engine.
	Estimator *montecarlo.Estimator
	// TurnRules and GameRules default to the ruleset defaults when zero.
	TurnRules ruleset.TurnRules
	GameRules ruleset.GameRules
	// DefaultProfile plays combos and live turns when no profile is named.
	DefaultProfile string
	// PlayerProfile plays the player's side in SimulateGame; empty uses
	// DefaultProfile.
	PlayerProfile  string
	DefaultTrials  int
	PlaybookTrials int
	// Store receives a summary of every run; nil disables persistence.
	Store  RunStore
	Logger *zap.Logger
}

// Service exposes the dice engine's operations.
//
// Invariant: safe for concurrent use; holds no per-call state.
type Service struct {
	engine      *scoring.Engine
	catalog     *dice.Catalog
	policies    *policy.Registry
	est         *montecarlo.Estimator
	recommender *playbook.Recommender
	turnRules   ruleset.TurnRules
	gameRules   ruleset.GameRules
	profile     string
	player      string
	trials      int
	pbTrials    int
	store       RunStore
	logger      *zap.Logger
}

// New builds a Service.
//
// Precondition: cfg.Engine, cfg.Catalog, and cfg.Policies must be non-nil.
// Postcondition: Returns an error for missing components, invalid rules, or
// default profiles the registry does not hold.
func New(cfg Config) (*Service, error) {
	if cfg.Engine == nil || cfg.Catalog == nil || cfg.Policies == nil {
		return nil, errors.New("calculator: engine, catalog, and policy registry are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		engine:    cfg.Engine,
		catalog:   cfg.Catalog,
		policies:  cfg.Policies,
		est:       cfg.Estimator,
		turnRules: cfg.TurnRules,
		gameRules: cfg.GameRules,
		profile:   cfg.DefaultProfile,
		player:    cfg.PlayerProfile,
		trials:    cfg.DefaultTrials,
		pbTrials:  cfg.PlaybookTrials,
		store:     cfg.Store,
		logger:    logger,
	}
	if s.est == nil {
		s.est = &montecarlo.Estimator{Engine: cfg.Engine, Logger: logger}
	}
	if s.turnRules == (ruleset.TurnRules{}) {
		s.turnRules = ruleset.DefaultTurnRules()
	}
	if s.gameRules == (ruleset.GameRules{}) {
		s.gameRules = ruleset.DefaultGameRules()
	}
	if s.profile == "" {
		s.profile = defaultProfile
	}
	if s.player == "" {
		s.player = s.profile
	}
	if s.trials <= 0 {
		s.trials = defaultTrials
	}
	if s.pbTrials <= 0 {
		s.pbTrials = defaultPlaybookTrials
	}
	if err := s.turnRules.Validate(); err != nil {
		return nil, fmt.Errorf("calculator: %w", err)
	}
	if err := s.gameRules.Validate(); err != nil {
		return nil, fmt.Errorf("calculator: %w", err)
	}
	for _, id := range []string{s.profile, s.player} {
		if _, err := s.policies.Policy(id); err != nil {
			return nil, fmt.Errorf("calculator: default profile: %w", err)
		}
	}
	s.recommender = playbook.NewRecommender(s.est, logger)
	return s, nil
}

// estimator returns the service estimator, or a copy drawing from seed when
// seed is non-zero.
func (s *Service) estimator(seed uint64) *montecarlo.Estimator {
	if seed == 0 {
		return s.est
	}
	e := *s.est
	e.Seed = seed
	return &e
}

func (s *Service) resolve(id string) (string, turn.Policy, error) {
	if id == "" {
		id = s.profile
	}
	p, err := s.policies.Policy(id)
	return id, p, err
}

// DieProbabilities describes one catalog die.
type DieProbabilities struct {
	Die           *dice.Die
	Probabilities [dice.Faces]float64
	// SingleValue is the expected points of the die rolled alone under the
	// service's rule table.
	SingleValue float64
	// MostLikely is the face with the highest probability, lowest first on
	// ties.
	MostLikely int
}

// EvaluateDieProbabilities returns the face probabilities of a catalog die.
//
// Postcondition: Returns ErrUnknownDie for an ID missing from the catalog.
func (s *Service) EvaluateDieProbabilities(dieID string) (DieProbabilities, error) {
	d, ok := s.catalog.Get(dieID)
	if !ok {
		return DieProbabilities{}, fmt.Errorf("%w: %q", ErrUnknownDie, dieID)
	}
	out := DieProbabilities{Die: d, Probabilities: d.Probabilities(), MostLikely: 1}
	for f := 1; f <= dice.Faces; f++ {
		if d.ProbabilityOf(f) > d.ProbabilityOf(out.MostLikely) {
			out.MostLikely = f
		}
	}
	out.SingleValue = s.engine.SingleValue(d)
	return out, nil
}

// TargetCombination is a target selection and, for a full pool, its
// single-roll score distribution.
type TargetCombination struct {
	RunID uuid.UUID
	loadout.TargetResult
	// Analysis is nil unless the selection is a full pool.
	Analysis *scoring.Analysis
}

// ComputeTargetCombination selects the dice from inventory most likely to
// show targets, greedily or exhaustively per mode.
//
// Postcondition: Returns loadout.ErrCombinatorialOverflow before searching
// when an exhaustive search would exceed its limit.
func (s *Service) ComputeTargetCombination(inventory dice.Inventory, targets []int, weights []float64, diceCount int, mode loadout.Mode) (TargetCombination, error) {
	run := newRun(KindTarget, fmt.Sprint(targets), "")
	res, err := loadout.ComputeTargetCombination(loadout.TargetRequest{
		Inventory: inventory,
		Catalog:   s.catalog,
		Engine:    s.engine,
		Targets:   targets,
		Weights:   weights,
		DiceCount: diceCount,
		Mode:      mode,
	})
	if err != nil {
		return TargetCombination{}, err
	}
	out := TargetCombination{RunID: run.ID, TargetResult: res}
	if res.Pool != nil {
		a := s.engine.Analyze(res.Pool.Dice())
		out.Analysis = &a
		run.Mean, run.StdDev, run.BustRate = a.Mean, a.StdDev, a.PBust
	}
	run.Requested, run.Completed = res.Visited, res.Visited
	run.Detail = map[string]any{"mode": mode.String(), "score": res.Score, "joint": res.Joint, "dice": dieIDs(res.Dice())}
	s.record(context.Background(), run)
	return out, nil
}

func dieIDs(ds []*dice.Die) []string {
	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	return ids
}
