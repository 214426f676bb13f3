// Package montecarlo estimates turn and game statistics by parallel sampling
// and, for small turns, by exact enumeration.
package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/match"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// ErrCombinatorialOverflow is returned when exhaustive enumeration would
// exceed the configured outcome limit.
var ErrCombinatorialOverflow = errors.New("combinatorial overflow")

const (
	defaultProgressInterval = 250 * time.Millisecond
	defaultExhaustiveLimit  = 2_000_000
)

// Progress is a snapshot of a running estimation.
type Progress struct {
	Completed int
	Total     int
	Elapsed   time.Duration
	// Remaining is the estimated time to completion; zero until a trial completes.
	Remaining time.Duration
}

// Fraction returns Completed/Total.
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Completed) / float64(p.Total)
}

// ProgressFunc receives progress reports. It is called from a single
// goroutine at most once per ProgressInterval, plus once when the run ends.
type ProgressFunc func(Progress)

// Estimator runs independent trials in parallel.
//
// Trial i always draws from dice.NewSeededSource(Seed, i), and partial
// results are merged with integer sums, so a run's aggregate is identical for
// any number of workers.
type Estimator struct {
	Engine *scoring.Engine
	// Workers is the number of goroutines; <= 0 uses GOMAXPROCS.
	Workers int
	Seed    uint64
	// ProgressInterval bounds the progress callback rate; <= 0 uses 250ms.
	ProgressInterval time.Duration
	// ExhaustiveLimit bounds the number of roll outcomes Exhaustive may
	// enumerate; <= 0 uses 2,000,000.
	ExhaustiveLimit int
	Logger          *zap.Logger
}

// TurnSpec describes the turn to sample.
type TurnSpec struct {
	Policy turn.Policy
	Pool   *dice.Pool
	Rules  ruleset.TurnRules
	// Game is the context each turn is played in; the zero value is a
	// standalone turn.
	Game turn.GameContext
}

func (s TurnSpec) validate() error {
	if s.Policy == nil {
		return errors.New("montecarlo: turn spec has no policy")
	}
	if s.Pool == nil {
		return fmt.Errorf("montecarlo: turn spec has no pool: %w", dice.ErrInvalidPoolSize)
	}
	return nil
}

// GameSpec describes the games to sample.
type GameSpec struct {
	Sides [2]match.Side
	Rules ruleset.GameRules
	// First opens game 0; with Rules.AlternateFirst game i is opened by
	// (First + i) % 2.
	First int
}

func (e *Estimator) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Estimator) workers(trials int) int {
	w := e.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	return max(1, min(w, trials))
}

func (e *Estimator) progressInterval() time.Duration {
	if e.ProgressInterval <= 0 {
		return defaultProgressInterval
	}
	return e.ProgressInterval
}

// merger is a per-worker partial aggregate.
type merger[A any] interface {
	merge(other A)
}

// runTrials executes trial(i, acc) for i in [0, n) on e.workers(n)
// goroutines, each owning one accumulator. Workers claim indices from a
// shared counter and stop claiming once ctx is done, so every claimed trial
// runs to completion. The accumulators are merged in worker order.
//
// Postcondition: returns the merged accumulator, the number of completed
// trials, and whether ctx ended the run early.
func runTrials[A merger[A]](ctx context.Context, e *Estimator, n int, progress ProgressFunc, newAcc func() A, trial func(i int, acc A)) (A, int, bool) {
	workers := e.workers(n)
	parts := make([]A, workers)
	var next, done atomic.Int64
	start := time.Now()

	report := func() {
		if progress == nil {
			return
		}
		completed := int(done.Load())
		elapsed := time.Since(start)
		p := Progress{Completed: completed, Total: n, Elapsed: elapsed}
		if completed > 0 {
			p.Remaining = time.Duration(float64(elapsed) * float64(n-completed) / float64(completed))
		}
		progress(p)
	}

	stop := make(chan struct{})
	var reporter sync.WaitGroup
	reporter.Add(1)
	go func() {
		defer reporter.Done()
		ticker := time.NewTicker(e.progressInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report()
			case <-stop:
				return
			}
		}
	}()

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		parts[w] = newAcc()
		acc := parts[w]
		g.Go(func() error {
			for ctx.Err() == nil {
				i := next.Add(1) - 1
				if i >= int64(n) {
					return nil
				}
				trial(int(i), acc)
				done.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	close(stop)
	reporter.Wait()
	report()

	total := parts[0]
	for _, p := range parts[1:] {
		total.merge(p)
	}
	completed := int(done.Load())
	return total, completed, completed < n
}

// RunTurns samples trials independent turns of spec.
//
// Precondition: trials > 0.
// Postcondition: on cancellation returns the partial Result with Cancelled
// set and a nil error; Trials counts only completed turns.
func (e *Estimator) RunTurns(ctx context.Context, spec TurnSpec, trials int, progress ProgressFunc) (Result, error) {
	if trials <= 0 {
		return Result{}, fmt.Errorf("montecarlo: trials must be positive, got %d", trials)
	}
	if err := spec.validate(); err != nil {
		return Result{}, err
	}
	if e.Engine == nil {
		return Result{}, errors.New("montecarlo: estimator has no engine")
	}
	sim := turn.NewSimulator(turn.Config{Engine: e.Engine, Policy: spec.Policy, Rules: spec.Rules, Logger: e.Logger})

	start := time.Now()
	res, completed, cancelled := runTrials(ctx, e, trials, progress, newResult, func(i int, acc *Result) {
		acc.add(sim.Play(spec.Pool, spec.Game, dice.NewSeededSource(e.Seed, uint64(i))))
	})
	res.Requested = trials
	res.Cancelled = cancelled
	res.Elapsed = time.Since(start)

	e.logger().Info("turn simulation complete",
		zap.String("policy", spec.Policy.Name()),
		zap.String("pool", spec.Pool.String()),
		zap.Int("trials", completed),
		zap.Bool("cancelled", cancelled),
		zap.Float64("mean", res.Mean()),
		zap.Float64("bust_rate", res.BustRate()),
		zap.Duration("elapsed", res.Elapsed),
	)
	return *res, nil
}

// RunGames samples games full games of spec.
//
// Precondition: games > 0.
// Postcondition: as for RunTurns.
func (e *Estimator) RunGames(ctx context.Context, spec GameSpec, games int, progress ProgressFunc) (GameResult, error) {
	if games <= 0 {
		return GameResult{}, fmt.Errorf("montecarlo: games must be positive, got %d", games)
	}
	cfg := match.Config{Engine: e.Engine, Sides: spec.Sides, Rules: spec.Rules, First: spec.First, Logger: e.Logger}
	if err := cfg.Validate(); err != nil {
		return GameResult{}, err
	}

	start := time.Now()
	res, completed, cancelled := runTrials(ctx, e, games, progress, newGameResult, func(i int, acc *GameResult) {
		first := spec.First
		if spec.Rules.AlternateFirst {
			first = (spec.First + i) % 2
		}
		g, err := match.Resume(cfg, match.NewState(first))
		if err != nil {
			panic("montecarlo: validated game config rejected: " + err.Error())
		}
		acc.add(g.Play(dice.NewSeededSource(e.Seed, uint64(i))))
	})
	res.Requested = games
	res.Cancelled = cancelled
	res.Elapsed = time.Since(start)

	e.logger().Info("game simulation complete",
		zap.String("side0", spec.Sides[0].Name),
		zap.String("side1", spec.Sides[1].Name),
		zap.Int("games", completed),
		zap.Bool("cancelled", cancelled),
		zap.Float64("side0_win_rate", res.WinRate(0)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return *res, nil
}
