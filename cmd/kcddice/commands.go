package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/kcddice/internal/calculator"
	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/loadout"
	"github.com/cory-johannsen/kcddice/internal/game/montecarlo"
	"github.com/cory-johannsen/kcddice/internal/game/playbook"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("kcddice "+name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// progressLogger reports simulation progress through the app logger.
func progressLogger(a *app, enabled bool) montecarlo.ProgressFunc {
	if !enabled {
		return nil
	}
	return func(p montecarlo.Progress) {
		a.logger.Info("simulating",
			zap.Int("completed", p.Completed),
			zap.Int("total", p.Total),
			zap.String("done", pct(p.Fraction())),
			zap.Duration("eta", p.Remaining.Round(time.Second)),
		)
	}
}

func runDie(_ context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("die")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := fs.Args()
	if len(ids) == 0 {
		for _, d := range a.catalog.All() {
			ids = append(ids, d.ID)
		}
	}

	t := newTable("die", "name", "1", "2", "3", "4", "5", "6", "likely", "single")
	for _, id := range ids {
		dp, err := a.svc.EvaluateDieProbabilities(id)
		if err != nil {
			return err
		}
		row := []string{dp.Die.ID, dp.Die.Name}
		for _, p := range dp.Probabilities {
			row = append(row, fmt.Sprintf("%.3f", p))
		}
		row = append(row, fmt.Sprint(dp.MostLikely), fmt.Sprintf("%.1f", dp.SingleValue))
		t.Row(row...)
	}
	printTable(out, t)
	return nil
}

func runTarget(_ context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("target")
	targetsExpr := fs.String("targets", "1,1,1,5,5,5", "wanted face per position; 0 leaves a position free")
	weightsExpr := fs.String("weights", "", "importance per position; empty weighs every position 1")
	count := fs.Int("count", dice.PoolSize, "number of dice to pick")
	modeName := fs.String("mode", "greedy", "search mode: greedy or exhaustive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	inv, err := a.requireInventory()
	if err != nil {
		return err
	}
	targets, err := parseInts(*targetsExpr)
	if err != nil {
		return err
	}
	weights, err := parseFloats(*weightsExpr)
	if err != nil {
		return err
	}
	mode, err := loadout.ParseMode(*modeName)
	if err != nil {
		return err
	}

	res, err := a.svc.ComputeTargetCombination(inv, targets, weights, *count, mode)
	if err != nil {
		return err
	}

	printTitle(out, fmt.Sprintf("Target selection (%s)", mode))
	t := newTable("pos", "target", "die", "probability")
	for _, p := range res.Picks {
		target, prob := "-", "-"
		if p.Target != 0 {
			target, prob = fmt.Sprint(p.Target), pct(p.Probability)
		}
		t.Row(fmt.Sprint(p.Position+1), target, p.Die.ID, prob)
	}
	printTable(out, t)
	printField(out, "score", "%.4f", res.Score)
	printField(out, "all targets", "%s", pct(res.Joint))
	printField(out, "assignments", "%d", res.Visited)
	if res.Analysis != nil {
		printField(out, "first roll", "mean %.1f, sd %.1f, bust %s", res.Analysis.Mean, res.Analysis.StdDev, pct(res.Analysis.PBust))
	}
	printField(out, "run", "%s", res.RunID)
	return nil
}

func runCombo(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("combo")
	diceExpr := fs.String("dice", "", "six die IDs, e.g. fair:3,lucky:3")
	profile := fs.String("profile", "", "AI profile playing the turns; empty uses content.default_profile")
	trials := fs.Int("trials", 0, "turns to sample; 0 uses simulation.trials")
	seed := fs.Uint64("seed", 0, "random seed; 0 uses the configured seed")
	exact := fs.Bool("exact", false, "also compute the exact turn distribution")
	top := fs.Int("top", 8, "most common scores to show")
	progress := fs.Bool("progress", false, "log progress while sampling")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pool, err := parsePool(a.catalog, *diceExpr)
	if err != nil {
		return err
	}

	res, err := a.svc.SimulateCombo(ctx, pool, calculator.ComboConfig{
		Profile:  *profile,
		Trials:   *trials,
		Seed:     *seed,
		Exact:    *exact,
		Progress: progressLogger(a, *progress),
	})
	if err != nil {
		return err
	}
	r := res.Result

	printTitle(out, pool.String())
	printField(out, "profile", "%s", res.Profile)
	printField(out, "turns", "%d of %d%s", r.Trials, r.Requested, cancelledNote(r.Cancelled))
	lo, hi := r.CI95()
	printField(out, "mean", "%.1f (sd %.1f, 95%% CI %.1f-%.1f)", r.Mean(), r.StdDev(), lo, hi)
	printField(out, "bust rate", "%s", pct(r.BustRate()))
	printField(out, "avg rolls", "%.2f", r.AvgRolls())
	printField(out, "clear rate", "%s", pct(r.ClearRate()))
	printField(out, "max score", "%d", r.MaxScore)

	t := newTable("score", "turns", "share")
	for _, sc := range r.TopScores(*top) {
		t.Row(fmt.Sprint(sc.Score), fmt.Sprint(sc.Count), pct(float64(sc.Count)/float64(max(r.Trials, 1))))
	}
	printTable(out, t)

	if res.Exact != nil {
		printField(out, "exact", "mean %.2f, sd %.2f, bust %s (%d outcomes, %d states)",
			res.Exact.Mean, res.Exact.StdDev, pct(res.Exact.PBust), res.Exact.Outcomes, res.Exact.States)
	}
	printField(out, "run", "%s", res.RunID)
	return nil
}

func runGame(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("game")
	playerExpr := fs.String("player", "", "player's six die IDs")
	aiExpr := fs.String("ai", "", "AI's six die IDs; empty mirrors the player")
	aiProfile := fs.String("ai-profile", "", "AI profile; empty uses content.default_profile")
	games := fs.Int("games", 0, "games to play; 0 uses simulation.trials")
	pointCap := fs.Int("cap", -1, "point cap; negative uses game.point_cap")
	if err := fs.Parse(args); err != nil {
		return err
	}
	playerPool, err := parsePool(a.catalog, *playerExpr)
	if err != nil {
		return fmt.Errorf("player: %w", err)
	}
	aiPool := playerPool
	if *aiExpr != "" {
		if aiPool, err = parsePool(a.catalog, *aiExpr); err != nil {
			return fmt.Errorf("ai: %w", err)
		}
	}
	n := *games
	if n <= 0 {
		n = a.cfg.Simulation.Trials
	}

	res, err := a.svc.SimulateGame(ctx, playerPool, aiPool, *aiProfile, n, *pointCap)
	if err != nil {
		return err
	}
	r := res.Result

	printTitle(out, fmt.Sprintf("%s (%s) vs %s (%s)", playerPool, res.Player, aiPool, res.AI))
	printField(out, "games", "%d of %d%s", r.Games, r.Requested, cancelledNote(r.Cancelled))
	printField(out, "player wins", "%s", pct(r.WinRate(0)))
	printField(out, "ai wins", "%s", pct(r.WinRate(1)))
	printField(out, "draws", "%s", pct(r.DrawRate()))
	printField(out, "opener wins", "%s", pct(r.OpenerWinRate()))
	printField(out, "avg score", "%.0f vs %.0f", r.AvgScore(0), r.AvgScore(1))
	printField(out, "avg margin", "%.0f", r.AvgMargin())
	printField(out, "avg turns", "%.1f", r.AvgTurns())

	t := newTable("turns", "share")
	for _, l := range r.Lengths() {
		t.Row(fmt.Sprint(l.Turns), pct(l.Share))
	}
	printTable(out, t)
	printField(out, "run", "%s", res.RunID)
	return nil
}

func runPlaybook(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("playbook")
	diceExpr := fs.String("dice", "", "six die IDs of the pool in play")
	facesExpr := fs.String("faces", "", "faces showing on the rolled dice, e.g. \"1 5 5 2\"")
	handExpr := fs.String("hand", "", "pool positions (1-6) of the rolled dice; empty means the first len(faces)")
	score := fs.Int("score", 0, "points already banked this turn")
	rolls := fs.Int("rolls", 0, "rolls taken this turn before the live one")
	modeName := fs.String("mode", "rollout", "evaluation: rollout or fast")
	profile := fs.String("profile", "", "profile finishing the turn; empty uses content.default_profile")
	opponent := fs.String("opponent", "", "profile of the other side in game rollouts")
	trials := fs.Int("trials", 0, "rollouts per decision; 0 uses simulation.playbook_trials")
	seed := fs.Uint64("seed", 0, "random seed; 0 uses the configured seed")
	inGame := fs.Bool("game", false, "the turn is part of a game")
	own := fs.Int("own", 0, "own game score")
	opp := fs.Int("opp", 0, "opponent game score")
	oppExpr := fs.String("opp-dice", "", "opponent's six die IDs; enables win-probability ranking")
	final := fs.Bool("final", false, "this is the final turn")
	turnNo := fs.Int("turn", 1, "game turn number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pool, err := parsePool(a.catalog, *diceExpr)
	if err != nil {
		return err
	}
	faces, err := dice.ParseFaces(*facesExpr)
	if err != nil {
		return err
	}
	var hand []int
	if *handExpr != "" {
		positions, err := parseInts(*handExpr)
		if err != nil {
			return err
		}
		for _, p := range positions {
			hand = append(hand, p-1)
		}
	} else if len(faces) < dice.PoolSize {
		for i := range faces {
			hand = append(hand, i)
		}
	}
	mode, err := playbook.ParseMode(*modeName)
	if err != nil {
		return err
	}

	var g turn.GameContext
	if *inGame || *oppExpr != "" {
		g = turn.GameContext{
			InGame:        true,
			OwnScore:      *own,
			OpponentScore: *opp,
			PointCap:      a.cfg.Game.PointCap,
			FinalTurn:     *final,
			Turn:          *turnNo,
			Rules:         a.cfg.Game,
		}
		if *oppExpr != "" {
			if g.Opponent, err = parsePool(a.catalog, *oppExpr); err != nil {
				return fmt.Errorf("opponent: %w", err)
			}
		}
	}

	sug, err := a.svc.SuggestPlayBook(ctx, calculator.LiveTurn{
		Pool:      pool,
		Hand:      hand,
		Faces:     faces,
		TurnScore: *score,
		Rolls:     *rolls,
		Profile:   *profile,
		Opponent:  *opponent,
		Trials:    *trials,
		Seed:      *seed,
	}, g, mode)
	if err != nil {
		return err
	}

	printTitle(out, fmt.Sprintf("Roll %s (turn score %d)", joinInts(faces), *score))
	if len(sug.Options) == 0 {
		fmt.Fprintln(out, "bust: no scoring dice")
		printField(out, "run", "%s", sug.RunID)
		return nil
	}
	t := newTable("#", "keep", "dice", "points", "action", "win", "ev", "sd", "bust", "ranked by")
	for _, r := range sug.Options {
		win := "-"
		if sug.Metric == playbook.MetricWinProbability {
			win = pct(r.WinProbability)
		}
		t.Row(
			fmt.Sprint(r.Rank),
			joinInts(r.Option.Faces),
			strings.Join(r.Option.DieIDs, " "),
			fmt.Sprint(r.Option.Points),
			r.Decision.Action.String(),
			win,
			fmt.Sprintf("%.1f", r.ExpectedScore),
			fmt.Sprintf("%.1f", r.StdDev),
			pct(r.BustRate),
			fmt.Sprintf("%.3f", r.Value(sug.Metric)),
		)
	}
	printTable(out, t)
	printField(out, "mode", "%s, ranked by %s", sug.Mode, sug.Metric)
	printField(out, "run", "%s", sug.RunID)
	return nil
}

func runLoadouts(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("loadouts")
	profile := fs.String("profile", "", "profile playing the turns; empty uses content.default_profile")
	trials := fs.Int("trials", 2000, "turns per loadout")
	maxCandidates := fs.Int("max", 0, "loadouts to evaluate; 0 uses simulation.max_candidates")
	if err := fs.Parse(args); err != nil {
		return err
	}
	inv, err := a.requireInventory()
	if err != nil {
		return err
	}
	limit := *maxCandidates
	if limit <= 0 {
		limit = a.cfg.Simulation.MaxCandidates
	}

	res, err := a.svc.RankLoadouts(ctx, inv, *profile, *trials, limit)
	if err != nil {
		return err
	}
	r := res.Ranking

	sampled := ""
	if r.Sampled {
		sampled = " (sampled)"
	}
	printTitle(out, fmt.Sprintf("Loadouts for %s", res.Profile))
	printField(out, "evaluated", "%d of %d%s%s", r.Evaluated, r.Space, sampled, cancelledNote(r.Cancelled))
	t := newTable("#", "dice", "mean", "sd", "bust")
	for _, l := range r.Loadouts {
		t.Row(fmt.Sprint(l.Rank), l.Label(),
			fmt.Sprintf("%.1f", l.Result.Mean()),
			fmt.Sprintf("%.1f", l.Result.StdDev()),
			pct(l.Result.BustRate()))
	}
	printTable(out, t)
	printField(out, "elapsed", "%s", r.Elapsed.Round(time.Millisecond))
	printField(out, "run", "%s", res.RunID)
	return nil
}

func runProfiles(_ context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("profiles")
	if err := fs.Parse(args); err != nil {
		return err
	}
	t := newTable("id", "kind", "choice", "bank at", "risk", "description")
	for _, p := range a.registry.Profiles() {
		t.Row(p.ID, string(p.Kind), string(p.Choice), fmt.Sprint(p.BankAt),
			fmt.Sprintf("%.2f", p.RiskAversion), p.Description)
	}
	printTable(out, t)
	return nil
}

func runVariants(_ context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("variants")
	if err := fs.Parse(args); err != nil {
		return err
	}
	t := newTable("id", "cap", "end", "tie", "min bank", "description")
	for _, v := range a.variants {
		minBank := "-"
		if v.Turn.MinBank.Value > 0 {
			minBank = fmt.Sprintf("%d (first %d rolls)", v.Turn.MinBank.Value, v.Turn.MinBank.FirstNRolls)
		}
		t.Row(v.ID, fmt.Sprint(v.Game.PointCap), string(v.Game.End), string(v.Game.Tie), minBank, v.Description)
	}
	printTable(out, t)
	return nil
}

func runHistory(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("history")
	kind := fs.String("kind", "", "only runs of this kind: target, combo, game, playbook, loadout")
	limit := fs.Int("limit", 20, "runs to list")
	idExpr := fs.String("id", "", "show one run")
	prune := fs.Duration("prune", 0, "delete runs older than this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.runs == nil {
		return errors.New("run history needs database.enabled")
	}

	if *prune > 0 {
		n, err := a.runs.DeleteBefore(ctx, time.Now().Add(-*prune))
		if err != nil {
			return err
		}
		printField(out, "deleted", "%d runs", n)
		return nil
	}

	if *idExpr != "" {
		id, err := uuid.Parse(*idExpr)
		if err != nil {
			return fmt.Errorf("invalid run id: %w", err)
		}
		r, err := a.runs.Get(ctx, id)
		if err != nil {
			return err
		}
		printTitle(out, fmt.Sprintf("%s %s", r.Kind, r.Subject))
		printField(out, "id", "%s", r.ID)
		printField(out, "profile", "%s", r.Profile)
		printField(out, "seed", "%d", r.Seed)
		printField(out, "completed", "%d of %d%s", r.Completed, r.Requested, cancelledNote(r.Cancelled))
		printField(out, "mean", "%.1f (sd %.1f)", r.Mean, r.StdDev)
		printField(out, "bust rate", "%s", pct(r.BustRate))
		printField(out, "win rate", "%s", pct(r.WinRate))
		printField(out, "started", "%s", r.StartedAt.Format(time.RFC3339))
		printField(out, "elapsed", "%s", r.Elapsed)
		keys := make([]string, 0, len(r.Detail))
		for k := range r.Detail {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			printField(out, k, "%v", r.Detail[k])
		}
		return nil
	}

	runs, err := a.runs.Recent(ctx, calculator.Kind(*kind), *limit)
	if err != nil {
		return err
	}
	t := newTable("started", "kind", "subject", "profile", "mean", "bust", "win", "id")
	for _, r := range runs {
		t.Row(r.StartedAt.Local().Format("2006-01-02 15:04:05"), string(r.Kind), r.Subject, r.Profile,
			fmt.Sprintf("%.1f", r.Mean), pct(r.BustRate), pct(r.WinRate), r.ID.String())
	}
	printTable(out, t)
	return nil
}

func cancelledNote(cancelled bool) string {
	if cancelled {
		return " (cancelled)"
	}
	return ""
}
