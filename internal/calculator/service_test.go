package calculator_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/kcddice/internal/calculator"
	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/loadout"
	"github.com/cory-johannsen/kcddice/internal/game/montecarlo"
	"github.com/cory-johannsen/kcddice/internal/game/playbook"
	"github.com/cory-johannsen/kcddice/internal/game/policy"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
	"github.com/cory-johannsen/kcddice/internal/testutil"
)

type memStore struct {
	mu   sync.Mutex
	runs []calculator.Run
	err  error
}

func (m *memStore) SaveRun(_ context.Context, run calculator.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) last(t *testing.T) calculator.Run {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.runs)
	return m.runs[len(m.runs)-1]
}

func newCatalog(t *testing.T) *dice.Catalog {
	t.Helper()
	c, err := dice.NewCatalog([]dice.CatalogEntry{
		{ID: "fair", Name: "Ordinary die", Weights: [6]float64{1, 1, 1, 1, 1, 1}},
		{ID: "lucky", Name: "Lucky die", Weights: [6]float64{4, 1, 1, 1, 2, 1}},
		{ID: "odd", Name: "Odd die", Weights: [6]float64{1, 0, 3, 0, 1, 0}},
	})
	require.NoError(t, err)
	return c
}

func newService(t *testing.T, store calculator.RunStore, logger *zap.Logger) *calculator.Service {
	t.Helper()
	engine := scoring.MustEngine(scoring.DefaultRuleTable())
	svc, err := calculator.New(calculator.Config{
		Engine:         engine,
		Catalog:        newCatalog(t),
		Policies:       policy.NewDefaultRegistry(engine, nil, logger),
		Estimator:      &montecarlo.Estimator{Engine: engine, Seed: 11, Logger: logger},
		DefaultTrials:  200,
		PlaybookTrials: 20,
		Store:          store,
		Logger:         logger,
	})
	require.NoError(t, err)
	return svc
}

func TestNew_Validation(t *testing.T) {
	engine := scoring.MustEngine(scoring.DefaultRuleTable())
	_, err := calculator.New(calculator.Config{Engine: engine})
	assert.Error(t, err)

	_, err = calculator.New(calculator.Config{
		Engine:         engine,
		Catalog:        newCatalog(t),
		Policies:       policy.NewDefaultRegistry(engine, nil, nil),
		DefaultProfile: "oracle",
	})
	assert.ErrorIs(t, err, policy.ErrUnknownProfile)

	_, err = calculator.New(calculator.Config{
		Engine:    engine,
		Catalog:   newCatalog(t),
		Policies:  policy.NewDefaultRegistry(engine, nil, nil),
		GameRules: ruleset.GameRules{PointCap: 100, End: "later"},
	})
	assert.Error(t, err)
}

func TestEvaluateDieProbabilities(t *testing.T) {
	svc := newService(t, nil, nil)
	p, err := svc.EvaluateDieProbabilities("lucky")
	require.NoError(t, err)
	assert.Equal(t, "Lucky die", p.Die.Name)
	assert.InDelta(t, 0.4, p.Probabilities[0], 1e-12)
	assert.InDelta(t, 0.2, p.Probabilities[4], 1e-12)
	assert.InDelta(t, 50.0, p.SingleValue, 1e-9)
	assert.Equal(t, 1, p.MostLikely)

	odd, err := svc.EvaluateDieProbabilities("odd")
	require.NoError(t, err)
	assert.Equal(t, 3, odd.MostLikely)
	assert.Zero(t, odd.Probabilities[1])

	_, err = svc.EvaluateDieProbabilities("ghost")
	assert.ErrorIs(t, err, calculator.ErrUnknownDie)
}

func TestEvaluateDieProbabilities_UsesRuleTable(t *testing.T) {
	engine := scoring.MustEngine(scoring.RuleTable{Name: "threes", Rules: []scoring.Rule{
		{ID: "single_3", Kind: scoring.KindSingle, Faces: []int{3}, Points: 100},
		{ID: "single_5", Kind: scoring.KindSingle, Faces: []int{5}, Points: 50},
	}})
	svc, err := calculator.New(calculator.Config{
		Engine:   engine,
		Catalog:  newCatalog(t),
		Policies: policy.NewDefaultRegistry(engine, nil, nil),
	})
	require.NoError(t, err)

	odd, err := svc.EvaluateDieProbabilities("odd")
	require.NoError(t, err)
	assert.InDelta(t, 0.6*100+0.2*50, odd.SingleValue, 1e-9)

	fair, err := svc.EvaluateDieProbabilities("fair")
	require.NoError(t, err)
	assert.InDelta(t, 150.0/6, fair.SingleValue, 1e-9)

	res, err := svc.ComputeTargetCombination(dice.Inventory{"fair": 3, "odd": 2, "lucky": 1}, nil, nil, 2, loadout.ModeGreedy)
	require.NoError(t, err)
	assert.Equal(t, []string{"odd", "odd"}, dieIDs(res.Dice()))
}

func TestComputeTargetCombination(t *testing.T) {
	store := &memStore{}
	svc := newService(t, store, nil)
	inv := dice.Inventory{"fair": 6, "lucky": 3, "odd": 2}

	res, err := svc.ComputeTargetCombination(inv, []int{1, 1, 1, 3, 3, 5}, nil, 6, loadout.ModeGreedy)
	require.NoError(t, err)
	require.NotNil(t, res.Pool)
	require.NotNil(t, res.Analysis)
	assert.NotEqual(t, uuid.Nil, res.RunID)
	assert.Equal(t, []string{"lucky", "lucky", "lucky", "odd", "odd", "fair"}, dieIDs(res.Dice()))
	assert.Greater(t, res.Analysis.Mean, 0.0)

	run := store.last(t)
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, calculator.KindTarget, run.Kind)
	assert.InDelta(t, res.Analysis.PBust, run.BustRate, 1e-12)

	partial, err := svc.ComputeTargetCombination(inv, []int{3}, nil, 1, loadout.ModeExhaustive)
	require.NoError(t, err)
	assert.Nil(t, partial.Pool)
	assert.Nil(t, partial.Analysis)
	assert.Equal(t, "odd", partial.Picks[0].Die.ID)
}

func dieIDs(ds []*dice.Die) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

// a lone 5 beside non-scoring faces: cautious keeps rolling below 350 and
// the five remaining dice can never score.
func TestSimulateCombo_RiggedBust(t *testing.T) {
	store := &memStore{}
	svc := newService(t, store, nil)
	pool := testutil.RiggedPool(t, 5, 2, 2, 3, 3, 4)

	res, err := svc.SimulateCombo(context.Background(), pool, calculator.ComboConfig{Profile: "cautious", Trials: 100, Exact: true})
	require.NoError(t, err)
	assert.Equal(t, "cautious", res.Profile)
	assert.Equal(t, 100, res.Result.Trials)
	assert.Equal(t, 1.0, res.Result.BustRate())
	require.NotNil(t, res.Exact)
	assert.Equal(t, 1.0, res.Exact.PBust)

	run := store.last(t)
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, calculator.KindCombo, run.Kind)
	assert.Equal(t, 100, run.Completed)
	assert.Equal(t, uint64(11), run.Seed)
	assert.Equal(t, 1.0, run.Detail["exact_bust"])
}

func TestSimulateCombo_SeedReproducible(t *testing.T) {
	svc := newService(t, nil, nil)
	pool := dice.Uniform(dice.Fair())
	cfg := calculator.ComboConfig{Seed: 99, Trials: 500}

	a, err := svc.SimulateCombo(context.Background(), pool, cfg)
	require.NoError(t, err)
	b, err := svc.SimulateCombo(context.Background(), pool, cfg)
	require.NoError(t, err)
	assert.Equal(t, "balanced", a.Profile)
	assert.Equal(t, a.Result.Scores, b.Result.Scores)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestSimulateCombo_Errors(t *testing.T) {
	svc := newService(t, nil, nil)
	_, err := svc.SimulateCombo(context.Background(), nil, calculator.ComboConfig{})
	assert.ErrorIs(t, err, dice.ErrInvalidPoolSize)

	_, err = svc.SimulateCombo(context.Background(), dice.Uniform(dice.Fair()), calculator.ComboConfig{Profile: "oracle"})
	assert.ErrorIs(t, err, policy.ErrUnknownProfile)

	bad := ruleset.TurnRules{MaxRolls: -1}
	_, err = svc.SimulateCombo(context.Background(), dice.Uniform(dice.Fair()), calculator.ComboConfig{Rules: &bad})
	assert.Error(t, err)
}

func TestSimulateGame_PlayerAlwaysWins(t *testing.T) {
	store := &memStore{}
	svc := newService(t, store, nil)
	ones := testutil.RiggedPool(t, 1, 1, 1, 1, 1, 1)
	bust := testutil.RiggedPool(t, 2, 3, 4, 6, 2, 3)

	res, err := svc.SimulateGame(context.Background(), ones, bust, "risky", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, "balanced", res.Player)
	assert.Equal(t, "risky", res.AI)
	assert.Equal(t, 10, res.Result.Games)
	assert.Equal(t, 1.0, res.Result.WinRate(0))

	run := store.last(t)
	assert.Equal(t, calculator.KindGame, run.Kind)
	assert.Equal(t, 1.0, run.WinRate)
	assert.Equal(t, 0, run.Detail["point_cap"])

	_, err = svc.SimulateGame(context.Background(), ones, bust, "oracle", 10, 0)
	assert.ErrorIs(t, err, policy.ErrUnknownProfile)
	_, err = svc.SimulateGame(context.Background(), ones, nil, "risky", 10, 0)
	assert.ErrorIs(t, err, dice.ErrInvalidPoolSize)
	_, err = svc.SimulateGame(context.Background(), ones, bust, "risky", 0, 0)
	assert.Error(t, err)
}

func TestSuggestPlayBook_FastMode(t *testing.T) {
	store := &memStore{}
	svc := newService(t, store, nil)
	live := calculator.LiveTurn{Pool: dice.Uniform(dice.Fair()), Faces: []int{1, 5, 2, 2, 6, 6}, Profile: "expectimax"}

	sug, err := svc.SuggestPlayBook(context.Background(), live, turn.GameContext{}, playbook.ModeFast)
	require.NoError(t, err)
	assert.Equal(t, playbook.MetricRiskAdjustedEV, sug.Metric)
	require.NotEmpty(t, sug.Options)
	for i, r := range sug.Options {
		assert.Equal(t, i+1, r.Rank)
		if i > 0 {
			assert.GreaterOrEqual(t, sug.Options[i-1].RiskAdjusted, r.RiskAdjusted)
		}
	}
	run := store.last(t)
	assert.Equal(t, calculator.KindPlaybook, run.Kind)
	assert.Equal(t, "expectimax", run.Profile)
	assert.Equal(t, "fast", run.Detail["mode"])
}

func TestSuggestPlayBook_Bust(t *testing.T) {
	svc := newService(t, nil, nil)
	live := calculator.LiveTurn{Pool: dice.Uniform(dice.Fair()), Faces: []int{2, 2, 3, 3, 4, 6}}
	sug, err := svc.SuggestPlayBook(context.Background(), live, turn.GameContext{}, playbook.ModeRollout)
	require.NoError(t, err)
	assert.Empty(t, sug.Options)
}

func TestSuggestPlayBook_GameUsesWinProbability(t *testing.T) {
	svc := newService(t, nil, nil)
	pool := dice.Uniform(dice.Fair())
	rules := ruleset.DefaultGameRules()
	rules.PointCap = 1000
	g := turn.GameContext{InGame: true, OwnScore: 900, OpponentScore: 950, PointCap: 1000, Turn: 9, Opponent: pool, Rules: rules}
	live := calculator.LiveTurn{Pool: pool, Faces: []int{5, 2, 2, 3, 3, 4}, Opponent: "cautious", Trials: 16}

	sug, err := svc.SuggestPlayBook(context.Background(), live, g, playbook.ModeRollout)
	require.NoError(t, err)
	assert.Equal(t, playbook.MetricWinProbability, sug.Metric)
	require.NotEmpty(t, sug.Options)
	for _, r := range sug.Options {
		assert.Equal(t, 16, r.Trials)
		assert.GreaterOrEqual(t, r.WinProbability, 0.0)
		assert.LessOrEqual(t, r.WinProbability, 1.0)
	}
}

func TestRankLoadouts(t *testing.T) {
	store := &memStore{}
	svc := newService(t, store, nil)

	res, err := svc.RankLoadouts(context.Background(), dice.Inventory{"fair": 6, "lucky": 1}, "cautious", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Ranking.Space)
	assert.Equal(t, 2, res.Ranking.Evaluated)
	require.Len(t, res.Ranking.Loadouts, 2)

	run := store.last(t)
	assert.Equal(t, calculator.KindLoadout, run.Kind)
	assert.Equal(t, res.Ranking.Best().IDs, run.Detail["best"])

	_, err = svc.RankLoadouts(context.Background(), dice.Inventory{"fair": 2}, "cautious", 100, 0)
	assert.ErrorIs(t, err, dice.ErrInvalidPoolSize)
}

func TestStoreFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &memStore{err: errors.New("connection refused")}
	svc := newService(t, store, zap.New(core))

	_, err := svc.SimulateCombo(context.Background(), dice.Uniform(dice.Fair()), calculator.ComboConfig{Trials: 10})
	require.NoError(t, err)
	entries := logs.FilterMessage("saving run failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "connection refused", entries[0].ContextMap()["error"])
}
