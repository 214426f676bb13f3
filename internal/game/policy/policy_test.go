package policy_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/policy"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
	"github.com/cory-johannsen/kcddice/internal/testutil"
)

var engine = scoring.MustEngine(scoring.DefaultRuleTable())

type tb interface {
	require.TestingT
	Helper()
}

// live returns a turn that rolled faces with score already banked this turn.
func live(t tb, e *scoring.Engine, score int, faces ...int) *turn.State {
	t.Helper()
	sim := turn.NewSimulator(turn.Config{Engine: e, Policy: turn.BankFirst()})
	s := sim.Begin(dice.Uniform(dice.Fair()), turn.GameContext{})
	s.Hand = s.Hand[:len(faces)]
	s.TurnScore = score
	sim.SetFaces(s, faces)
	require.Equal(t, turn.Deciding, sim.Step(s, nil))
	return s
}

func mustPolicy(t tb, r *policy.Registry, id string) turn.Policy {
	t.Helper()
	p, err := r.Policy(id)
	require.NoError(t, err)
	return p
}

func register(t tb, r *policy.Registry, p *policy.Profile) turn.Policy {
	t.Helper()
	require.NoError(t, r.Register(p))
	return mustPolicy(t, r, p.ID)
}

func TestDefaultProfiles_AllBuild(t *testing.T) {
	r := policy.NewDefaultRegistry(engine, nil, nil)
	ids := make([]string, 0)
	for _, p := range r.Profiles() {
		require.NoError(t, p.Validate())
		pol := mustPolicy(t, r, p.ID)
		assert.Equal(t, p.ID, pol.Name())
		ids = append(ids, p.ID)
	}
	assert.Subset(t, ids, []string{"cautious", "balanced", "risky", "priest", "expectimax", "gambler"})
}

func TestRegistry_UnknownProfile(t *testing.T) {
	r := policy.NewRegistry(engine, nil, nil)
	_, err := r.Policy("missing")
	assert.ErrorIs(t, err, policy.ErrUnknownProfile)
}

func TestRegistry_CollisionError(t *testing.T) {
	r := policy.NewRegistry(engine, nil, nil)
	p := &policy.Profile{ID: "x", Kind: policy.KindThreshold}
	require.NoError(t, r.Register(p))
	assert.Error(t, r.Register(&policy.Profile{ID: "x", Kind: policy.KindThreshold}))
}

func TestRegistry_MissingBase(t *testing.T) {
	r := policy.NewRegistry(engine, nil, nil)
	require.NoError(t, r.Register(&policy.Profile{ID: "w", Kind: policy.KindWin, Base: "nope"}))
	_, err := r.Policy("w")
	assert.ErrorIs(t, err, policy.ErrUnknownProfile)
}

func TestProfile_ValidateCollectsErrors(t *testing.T) {
	p := &policy.Profile{Kind: "psychic", Choice: "random", BankAt: -1, BankIfDiceBelow: 9}
	err := p.Validate()
	require.Error(t, err)
	for _, want := range []string{"id must not be empty", "unknown kind", "unknown choice", "bank_at", "bank_if_dice_below"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestPriest_OverridesTurnRules(t *testing.T) {
	r := policy.NewDefaultRegistry(engine, nil, nil)
	sim := turn.NewSimulator(turn.Config{Engine: engine, Policy: mustPolicy(t, r, "priest"), Rules: ruleset.DefaultTurnRules()})
	assert.Equal(t, ruleset.MinBank{Value: 500, FirstNRolls: 2}, sim.Rules().MinBank)
	assert.True(t, sim.Rules().ResetRollsOnClear)
	assert.True(t, sim.Policy().RerollOnClear())
}

func TestThreshold_BanksAtThreshold(t *testing.T) {
	r := policy.NewRegistry(engine, nil, nil)
	pol := register(t, r, &policy.Profile{ID: "t", Kind: policy.KindThreshold, BankAt: 300})

	s := live(t, engine, 0, 1, 2, 3, 3, 4, 6)
	assert.Equal(t, turn.Decision{Choice: 0, Action: turn.Continue}, pol.Decide(s, s.Options, s.Game))

	s = live(t, engine, 200, 1, 2, 3, 3, 4, 6)
	assert.Equal(t, turn.Decision{Choice: 0, Action: turn.Bank}, pol.Decide(s, s.Options, s.Game))

	final := s.Game
	final.InGame, final.FinalTurn = true, true
	assert.Equal(t, turn.Continue, pol.Decide(s, s.Options, final).Action)
}

func TestThreshold_BankIfDiceBelow(t *testing.T) {
	r := policy.NewRegistry(engine, nil, nil)
	pol := register(t, r, &policy.Profile{ID: "t", Kind: policy.KindThreshold, BankIfDiceBelow: 3})
	s := live(t, engine, 0, 1, 5, 2, 3)
	// keeping 1 and 5 leaves two dice
	assert.Equal(t, turn.Decision{Choice: 0, Action: turn.Bank}, pol.Decide(s, s.Options, s.Game))
}

func TestChoices(t *testing.T) {
	r := policy.NewRegistry(engine, nil, nil)
	fewest := register(t, r, &policy.Profile{ID: "f", Kind: policy.KindThreshold, Choice: policy.ChoiceFewestDice})
	balanced := register(t, r, &policy.Profile{ID: "b", Kind: policy.KindThreshold, Choice: policy.ChoiceBalanced})
	straight := register(t, r, &policy.Profile{ID: "s", Kind: policy.KindThreshold, Choice: policy.ChoiceStraightHunter})
	set := register(t, r, &policy.Profile{ID: "k", Kind: policy.KindThreshold, Choice: policy.ChoiceSetHunter})

	s := live(t, engine, 0, 1, 5, 5, 2, 3, 6)
	// options: 1 5 5 (200), 1 5 (150), 1 (100), 5 5 (100), 5 (50)
	f := s.Options[fewest.Decide(s, s.Options, s.Game).Choice]
	assert.Equal(t, []int{1}, f.Faces)

	// every option but the lone 5s values 350 once dice left count 50 each
	b := s.Options[balanced.Decide(s, s.Options, s.Game).Choice]
	assert.Equal(t, []int{1, 5, 5}, b.Faces)

	s = live(t, engine, 0, 1, 2, 3, 4, 5, 5)
	st := s.Options[straight.Decide(s, s.Options, s.Game).Choice]
	assert.Equal(t, []int{1, 2, 3, 4, 5}, st.Faces[:5])

	s = live(t, engine, 0, 2, 2, 2, 1, 3, 4)
	k := s.Options[set.Decide(s, s.Options, s.Game).Choice]
	assert.Contains(t, k.Faces, 2)
}

func TestRisk_ContinuesEarlyAndBanksLate(t *testing.T) {
	r := policy.NewDefaultRegistry(engine, nil, nil)
	pol := mustPolicy(t, r, "expectimax")

	s := live(t, engine, 0, 1, 2, 2, 3, 3, 4)
	assert.Equal(t, turn.Decision{Choice: 0, Action: turn.Continue}, pol.Decide(s, s.Options, s.Game))

	s = live(t, engine, 3000, 1, 2)
	assert.Equal(t, turn.Decision{Choice: 0, Action: turn.Bank}, pol.Decide(s, s.Options, s.Game))
}

func TestRisk_AversionIsMonotone(t *testing.T) {
	r := policy.NewRegistry(engine, nil, nil)
	bold := register(t, r, &policy.Profile{ID: "bold", Kind: policy.KindRisk, RiskAversion: 0})
	timid := register(t, r, &policy.Profile{ID: "timid", Kind: policy.KindRisk, RiskAversion: 1.5})

	rapid.Check(t, func(rt *rapid.T) {
		score := rapid.IntRange(0, 40).Draw(rt, "score") * 50
		n := rapid.IntRange(1, 6).Draw(rt, "dice")
		faces := make([]int, n)
		faces[0] = 1
		for i := 1; i < n; i++ {
			faces[i] = rapid.IntRange(1, 6).Draw(rt, "face")
		}
		s := live(rt, engine, score, faces...)
		if timid.Decide(s, s.Options, s.Game).Action == turn.Continue {
			assert.Equal(rt, turn.Continue, bold.Decide(s, s.Options, s.Game).Action)
		}
	})
}

func TestHeuristic_BanksWhenTurnScoreDominates(t *testing.T) {
	r := policy.NewDefaultRegistry(engine, nil, nil)
	pol := mustPolicy(t, r, "priest")

	s := live(t, engine, 0, 1, 2, 2, 3, 3, 4)
	assert.Equal(t, turn.Continue, pol.Decide(s, s.Options, s.Game).Action)

	s = live(t, engine, 1000, 1, 2, 2, 3, 3, 4)
	assert.Equal(t, turn.Bank, pol.Decide(s, s.Options, s.Game).Action)
}

func TestWin_OutsideGameUsesBase(t *testing.T) {
	r := policy.NewDefaultRegistry(engine, nil, nil)
	win := mustPolicy(t, r, "strategist")
	base := mustPolicy(t, r, "balanced")
	s := live(t, engine, 0, 1, 5, 5, 2, 3, 6)
	assert.Equal(t, base.Decide(s, s.Options, s.Game), win.Decide(s, s.Options, s.Game))
}

func TestWin_TakesTheWinningBank(t *testing.T) {
	singles := testutil.SinglesOnly()
	r := policy.NewDefaultRegistry(singles, nil, nil)
	win := mustPolicy(t, r, "strategist")

	rules := ruleset.DefaultGameRules()
	rules.PointCap = 100
	s := live(t, singles, 0, 1, 5, 2, 3, 4, 6)
	g := turn.GameContext{InGame: true, PointCap: 100, Turn: 1, Opponent: dice.Uniform(dice.Fair()), Rules: rules}
	d := win.Decide(s, s.Options, g)
	assert.Equal(t, turn.Decision{Choice: 0, Action: turn.Bank}, d)
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	return zap.New(core), logs
}

func TestScript_DecideHook(t *testing.T) {
	r := policy.NewDefaultRegistry(engine, nil, nil)
	pol := register(t, r, &policy.Profile{ID: "lua_last", Kind: policy.KindScript, Source: `
function decide(turn, options, game)
  if turn.score > 0 then
    return { choice = #options, action = "bank" }
  end
  return { choice = #options, action = "continue" }
end
`})
	s := live(t, engine, 0, 1, 5, 5, 2, 3, 6)
	assert.Equal(t, turn.Decision{Choice: len(s.Options) - 1, Action: turn.Continue}, pol.Decide(s, s.Options, s.Game))
	s = live(t, engine, 50, 1, 5, 5, 2, 3, 6)
	assert.Equal(t, turn.Decision{Choice: len(s.Options) - 1, Action: turn.Bank}, pol.Decide(s, s.Options, s.Game))
}

func TestScript_FailuresFallBackToBase(t *testing.T) {
	scripts := map[string]string{
		"raises":  `function decide() error("boom") end`,
		"loops":   `function decide() while true do end end`,
		"bad":     `function decide(t, o) return { choice = #o + 1, action = "bank" } end`,
		"garbage": `function decide() return 7 end`,
		"nohook":  `x = 1`,
		"badverb": `function decide() return { choice = 1, action = "maybe" } end`,
	}
	for id, src := range scripts {
		t.Run(id, func(t *testing.T) {
			logger, logs := observed()
			r := policy.NewDefaultRegistry(engine, nil, logger)
			pol := register(t, r, &policy.Profile{ID: id, Kind: policy.KindScript, Source: src, InstructionLimit: 10_000})
			base := mustPolicy(t, r, "balanced")

			s := live(t, engine, 0, 1, 5, 5, 2, 3, 6)
			assert.Equal(t, base.Decide(s, s.Options, s.Game), pol.Decide(s, s.Options, s.Game))
			assert.NotEmpty(t, logs.FilterMessage("script policy failed; using base profile").All())
		})
	}
}

func TestRegistry_ScriptSyntaxError(t *testing.T) {
	r := policy.NewDefaultRegistry(engine, nil, nil)
	err := r.Register(&policy.Profile{ID: "broken", Kind: policy.KindScript, Source: "function decide("})
	assert.Error(t, err)
	_, ok := r.Profile("broken")
	assert.False(t, ok)
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("keeper.yaml", `
profile:
  id: keeper
  kind: threshold
  choice: fewest_dice
  bank_at: 450
  turn_rules:
    min_bank:
      value: 300
      first_n_rolls: 1
    max_rolls: 20
`)
	write("lua.yaml", `
profile:
  id: scripted
  kind: script
  script: scripted.lua
`)
	write("scripted.lua", `function decide(t, o) return { choice = 1, action = "bank" } end`)
	write("notes.txt", "ignored")

	ps, err := policy.LoadProfiles(dir)
	require.NoError(t, err)
	require.Len(t, ps, 2)

	r := policy.NewDefaultRegistry(engine, nil, nil)
	require.NoError(t, r.RegisterAll(ps))
	keeper, ok := r.Profile("keeper")
	require.True(t, ok)
	assert.Equal(t, "keeper", keeper.Name)
	assert.Equal(t, 300, keeper.TurnRules.MinBank.Value)
	assert.Equal(t, 20, keeper.TurnRules.MaxRolls)

	scripted, ok := r.Profile("scripted")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "scripted.lua"), scripted.Script)
	assert.Equal(t, "balanced", scripted.Base)

	pol := mustPolicy(t, r, "scripted")
	s := live(t, engine, 0, 1, 5, 5, 2, 3, 6)
	assert.Equal(t, turn.Decision{Choice: 0, Action: turn.Bank}, pol.Decide(s, s.Options, s.Game))
}

func TestLoadProfiles_MissingKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.yaml"), []byte("id: x\n"), 0o644))
	_, err := policy.LoadProfiles(dir)
	assert.Error(t, err)
}
