package playbook_test

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/montecarlo"
	"github.com/cory-johannsen/kcddice/internal/game/playbook"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
	"github.com/cory-johannsen/kcddice/internal/testutil"
)

var defaultEngine = scoring.MustEngine(scoring.DefaultRuleTable())

func recommender(e *scoring.Engine, workers int) *playbook.Recommender {
	return playbook.NewRecommender(&montecarlo.Estimator{Engine: e, Workers: workers}, nil)
}

func request(faces ...int) playbook.Request {
	hand := make([]int, len(faces))
	for i := range hand {
		hand[i] = i
	}
	return playbook.Request{
		Pool:   dice.Uniform(dice.Fair()),
		Hand:   hand,
		Faces:  faces,
		Policy: turn.BankFirst(),
		Rules:  ruleset.DefaultTurnRules(),
		Metric: playbook.MetricRiskAdjustedEV,
		Trials: 300,
		Seed:   17,
	}
}

func assertRanked(t *testing.T, recs []playbook.Recommendation, m playbook.Metric) {
	t.Helper()
	for i, r := range recs {
		assert.Equal(t, i+1, r.Rank)
		if i > 0 {
			assert.LessOrEqual(t, r.Value(m), recs[i-1].Value(m))
		}
	}
}

func TestSuggest_FastModePrefersRollingEarly(t *testing.T) {
	req := request(1, 2, 2, 3, 3, 4)
	req.Mode = playbook.ModeFast
	recs, err := recommender(defaultEngine, 1).Suggest(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, turn.Continue, recs[0].Decision.Action)
	assert.Greater(t, recs[0].ExpectedScore, 100.0)
	assert.Greater(t, recs[0].BustRate, 0.0)

	assert.Equal(t, turn.Bank, recs[1].Decision.Action)
	assert.Equal(t, 100.0, recs[1].ExpectedScore)
	assert.Zero(t, recs[1].StdDev)
	assertRanked(t, recs, playbook.MetricRiskAdjustedEV)
}

func TestSuggest_FastModeRiskAversionFavoursBanking(t *testing.T) {
	req := request(1, 2, 2, 3, 3, 4)
	req.Mode = playbook.ModeFast
	req.TurnScore = 400
	req.RiskAversion = 3
	recs, err := recommender(defaultEngine, 1).Suggest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, turn.Bank, recs[0].Decision.Action)
}

func TestSuggest_BustHasNoRecommendations(t *testing.T) {
	recs, err := recommender(defaultEngine, 1).Suggest(context.Background(), request(2, 2, 3, 3, 4, 6))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSuggest_RolloutRanksEveryLegalDecision(t *testing.T) {
	recs, err := recommender(testutil.SinglesOnly(), 4).Suggest(context.Background(), request(1, 5, 2, 3, 4, 6))
	require.NoError(t, err)
	// 1 5, 1, 5: each can bank or continue
	require.Len(t, recs, 6)
	assertRanked(t, recs, playbook.MetricRiskAdjustedEV)
	for _, r := range recs {
		assert.Equal(t, 300, r.Trials)
		assert.False(t, r.Partial)
		if r.Decision.Action == turn.Bank {
			assert.Equal(t, float64(r.Option.Points), r.ExpectedScore)
			assert.Zero(t, r.BustRate)
		}
	}
}

func TestSuggest_IndependentOfDiceOrderAndWorkers(t *testing.T) {
	engine := testutil.SinglesOnly()
	want, err := recommender(engine, 1).Suggest(context.Background(), request(1, 5, 2, 3, 4, 6))
	require.NoError(t, err)

	rapid.Check(t, func(rt *rapid.T) {
		perm := rapid.Permutation([]int{0, 1, 2, 3, 4, 5}).Draw(rt, "perm")
		faces := []int{1, 5, 2, 3, 4, 6}
		req := request(1, 5, 2, 3, 4, 6)
		req.Hand = perm
		req.Faces = make([]int, 6)
		for i, pos := range perm {
			req.Faces[i] = faces[pos]
		}
		workers := rapid.IntRange(1, 8).Draw(rt, "workers")
		got, err := recommender(engine, workers).Suggest(context.Background(), req)
		require.NoError(rt, err)
		assert.Equal(rt, want, got)
	})
}

func TestSuggest_DistinguishesDiceShowingTheSameFace(t *testing.T) {
	heavy := dice.MustDie("heavy_two", "Heavy two", [6]float64{0, 100, 0, 0, 1, 0})
	three := testutil.Rigged(3)
	pool, err := dice.NewPool([]*dice.Die{dice.Fair(), heavy, three, three, three, three})
	require.NoError(t, err)

	req := request(5, 5)
	req.Pool = pool
	req.Mode = playbook.ModeFast
	recs, err := recommender(defaultEngine, 1).Suggest(context.Background(), req)
	require.NoError(t, err)
	assertRanked(t, recs, playbook.MetricRiskAdjustedEV)

	continueKeeping := func(id string) playbook.Recommendation {
		t.Helper()
		for _, r := range recs {
			if r.Decision.Action == turn.Continue && slices.Equal(r.Option.DieIDs, []string{id}) {
				return r
			}
		}
		require.Failf(t, "missing recommendation", "no continue after keeping the %s die", id)
		return playbook.Recommendation{}
	}
	keepFair := continueKeeping("ordinary")
	keepHeavy := continueKeeping("heavy_two")

	assert.Equal(t, []int{0}, keepFair.Option.Dice)
	assert.Equal(t, []int{1}, keepHeavy.Option.Dice)
	assert.InDelta(t, 100.0/101, keepFair.BustRate, 1e-9)
	assert.InDelta(t, 4.0/6, keepHeavy.BustRate, 1e-9)
	assert.Greater(t, keepHeavy.ExpectedScore, keepFair.ExpectedScore)
	assert.Less(t, keepHeavy.Rank, keepFair.Rank)
}

func TestSuggest_WinProbabilityInGame(t *testing.T) {
	engine := testutil.SinglesOnly()
	rules := ruleset.DefaultGameRules()
	rules.PointCap = 100

	req := request(1, 5, 2, 3, 4, 6)
	req.Metric = playbook.MetricWinProbability
	req.Game = turn.GameContext{InGame: true, PointCap: 100, Turn: 1, Opponent: dice.Uniform(dice.Fair()), Rules: rules}
	recs, err := recommender(engine, 2).Suggest(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	assert.Equal(t, turn.Decision{Choice: 0, Action: turn.Bank}, recs[0].Decision)
	assert.Equal(t, 1.0, recs[0].WinProbability)
	assertRanked(t, recs, playbook.MetricWinProbability)
}

func TestSuggest_WinProbabilityNeedsGame(t *testing.T) {
	req := request(1, 5, 2, 3, 4, 6)
	req.Metric = playbook.MetricWinProbability
	_, err := recommender(defaultEngine, 1).Suggest(context.Background(), req)
	assert.Error(t, err)
}

func TestSuggest_InvalidRequests(t *testing.T) {
	r := recommender(defaultEngine, 1)
	cases := map[string]func(*playbook.Request){
		"no pool":       func(q *playbook.Request) { q.Pool = nil },
		"no policy":     func(q *playbook.Request) { q.Policy = nil },
		"short faces":   func(q *playbook.Request) { q.Faces = q.Faces[:3] },
		"bad face":      func(q *playbook.Request) { q.Faces[0] = 7 },
		"repeated dice": func(q *playbook.Request) { q.Hand[1] = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request(1, 5, 2, 3, 4, 6)
			mutate(&req)
			_, err := r.Suggest(context.Background(), req)
			assert.Error(t, err)
		})
	}
}

func TestSuggest_CancelledIsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recs, err := recommender(defaultEngine, 2).Suggest(ctx, request(1, 5, 2, 3, 4, 6))
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	for _, r := range recs {
		assert.True(t, r.Partial)
		assert.Zero(t, r.Trials)
	}
}

func TestParseMode(t *testing.T) {
	m, err := playbook.ParseMode("fast")
	require.NoError(t, err)
	assert.Equal(t, playbook.ModeFast, m)
	assert.Equal(t, "fast", m.String())
	_, err = playbook.ParseMode("slow")
	assert.Error(t, err)
}
