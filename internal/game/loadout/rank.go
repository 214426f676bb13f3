package loadout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/montecarlo"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// DefaultMaxCandidates caps the loadouts a ranking evaluates.
const DefaultMaxCandidates = 5000

// samplingStream separates candidate sampling from trial dice streams.
const samplingStream = 0x6c6f61646f7574

// RankRequest asks for the best six dice in Inventory under Policy.
type RankRequest struct {
	Inventory dice.Inventory
	Catalog   *dice.Catalog
	Policy    turn.Policy
	Rules     ruleset.TurnRules
	// Trials is the number of turns sampled per candidate.
	Trials int
	// MaxCandidates caps the evaluated loadouts; <= 0 uses
	// DefaultMaxCandidates. Larger spaces are sampled.
	MaxCandidates int
	// Top limits the returned loadouts; <= 0 returns all.
	Top int
	// Progress is called after each candidate with Completed counting
	// candidates.
	Progress montecarlo.ProgressFunc
}

// Loadout is one evaluated selection.
type Loadout struct {
	Rank   int
	IDs    []string
	Pool   *dice.Pool
	Result montecarlo.Result
}

// Label joins the loadout's die IDs.
func (l Loadout) Label() string { return strings.Join(l.IDs, ",") }

// Ranking is the outcome of Rank.
type Ranking struct {
	// Space is the number of distinct six-die loadouts the inventory allows.
	Space int
	// Sampled reports whether Space exceeded the candidate cap.
	Sampled   bool
	Evaluated int
	Cancelled bool
	Elapsed   time.Duration
	Loadouts  []Loadout
}

// Best returns the top loadout.
//
// Precondition: len(r.Loadouts) > 0.
func (r Ranking) Best() Loadout { return r.Loadouts[0] }

// Ranker evaluates loadouts with a shared Estimator. Every candidate is
// sampled with the estimator's seed, so candidates face the same roll
// streams.
type Ranker struct {
	Estimator *montecarlo.Estimator
	Logger    *zap.Logger
}

// NewRanker builds a Ranker.
//
// Precondition: est must be non-nil.
func NewRanker(est *montecarlo.Estimator, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{Estimator: est, Logger: logger}
}

// Rank evaluates candidate loadouts and orders them by mean turn score, then
// bust rate, then label.
//
// When the inventory allows at most MaxCandidates loadouts all are
// evaluated. Otherwise the candidates are every homogeneous set, the best
// mix for single 1s and 5s, the best straight dice, and uniformly sampled
// loadouts up to the cap; sampling is seeded from the estimator's seed.
//
// Precondition: req.Policy non-nil; req.Trials > 0.
// Postcondition: Returns ErrInvalidPoolSize when the inventory holds fewer
// than six dice. On cancellation returns the loadouts evaluated so far with
// Cancelled set and a nil error.
func (r *Ranker) Rank(ctx context.Context, req RankRequest) (Ranking, error) {
	if r.Estimator == nil {
		return Ranking{}, errors.New("loadout: ranker has no estimator")
	}
	if req.Policy == nil {
		return Ranking{}, errors.New("loadout: rank request has no policy")
	}
	if req.Trials <= 0 {
		return Ranking{}, fmt.Errorf("loadout: trials must be positive, got %d", req.Trials)
	}
	st, err := newStock(req.Inventory, req.Catalog)
	if err != nil {
		return Ranking{}, err
	}
	if st.total() < dice.PoolSize {
		return Ranking{}, fmt.Errorf("%w: inventory holds %d dice", dice.ErrInvalidPoolSize, st.total())
	}
	limit := req.MaxCandidates
	if limit <= 0 {
		limit = DefaultMaxCandidates
	}

	sp := newSpace(st)
	out := Ranking{Space: sp.size(), Sampled: sp.size() > limit}
	cands := r.candidates(req, st, sp, limit)

	start := time.Now()
	for i, c := range cands {
		if ctx.Err() != nil {
			break
		}
		pool, err := dice.NewPool(c)
		if err != nil {
			return Ranking{}, err
		}
		res, err := r.Estimator.RunTurns(ctx, montecarlo.TurnSpec{Policy: req.Policy, Pool: pool, Rules: req.Rules}, req.Trials, nil)
		if err != nil {
			return Ranking{}, err
		}
		if res.Cancelled {
			break
		}
		ids := make([]string, len(c))
		for j, d := range c {
			ids[j] = d.ID
		}
		out.Loadouts = append(out.Loadouts, Loadout{IDs: ids, Pool: pool, Result: res})
		if req.Progress != nil {
			elapsed := time.Since(start)
			req.Progress(montecarlo.Progress{
				Completed: i + 1,
				Total:     len(cands),
				Elapsed:   elapsed,
				Remaining: time.Duration(float64(elapsed) * float64(len(cands)-i-1) / float64(i+1)),
			})
		}
	}
	out.Evaluated = len(out.Loadouts)
	out.Cancelled = out.Evaluated < len(cands)
	out.Elapsed = time.Since(start)

	slices.SortStableFunc(out.Loadouts, compareLoadouts)
	if req.Top > 0 && len(out.Loadouts) > req.Top {
		out.Loadouts = out.Loadouts[:req.Top]
	}
	for i := range out.Loadouts {
		out.Loadouts[i].Rank = i + 1
	}

	fields := []zap.Field{
		zap.String("policy", req.Policy.Name()),
		zap.Int("space", out.Space),
		zap.Int("evaluated", out.Evaluated),
		zap.Bool("cancelled", out.Cancelled),
		zap.Duration("elapsed", out.Elapsed),
	}
	if len(out.Loadouts) > 0 {
		fields = append(fields, zap.String("best", out.Best().Label()), zap.Float64("best_mean", out.Best().Result.Mean()))
	}
	r.Logger.Info("loadout ranking complete", fields...)
	return out, nil
}

func compareLoadouts(a, b Loadout) int {
	if am, bm := a.Result.Mean(), b.Result.Mean(); am != bm {
		if am > bm {
			return -1
		}
		return 1
	}
	if ab, bb := a.Result.BustRate(), b.Result.BustRate(); ab != bb {
		if ab < bb {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Label(), b.Label())
}

// candidates lists the loadouts to evaluate, without duplicates.
func (r *Ranker) candidates(req RankRequest, st stock, sp space, limit int) [][]*dice.Die {
	n := sp.size()
	if n <= limit {
		out := make([][]*dice.Die, n)
		for i := range out {
			out[i] = sp.unrank(i)
		}
		return out
	}

	seen := make(map[string]bool)
	var out [][]*dice.Die
	add := func(c []*dice.Die) {
		if len(out) >= limit || c == nil {
			return
		}
		key := keyOf(c)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, c)
	}

	for t, d := range st.dice {
		if st.count[t] >= dice.PoolSize {
			add(slices.Repeat([]*dice.Die{d}, dice.PoolSize))
		}
	}
	for _, targets := range [][]int{{1, 1, 1, 5, 5, 5}, {1, 2, 3, 4, 5, 6}} {
		res, err := ComputeTargetCombination(TargetRequest{
			Inventory: req.Inventory,
			Catalog:   req.Catalog,
			Engine:    r.Estimator.Engine,
			Targets:   targets,
		})
		if err != nil {
			r.Logger.Warn("seed loadout failed", zap.Ints("targets", targets), zap.Error(err))
			continue
		}
		add(sortByID(res.Dice()))
	}

	src := dice.NewSeededSource(r.Estimator.Seed, samplingStream)
	for attempts := 0; len(out) < limit && attempts < 20*limit; attempts++ {
		add(sp.unrank(src.Intn(n)))
	}
	return out
}

func sortByID(ds []*dice.Die) []*dice.Die {
	slices.SortFunc(ds, func(a, b *dice.Die) int { return strings.Compare(a.ID, b.ID) })
	return ds
}

func keyOf(ds []*dice.Die) string {
	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	return strings.Join(ids, ",")
}

// space indexes the six-die multisets a stock allows, in die ID order.
//
// Invariant: ways[t][k] is the number of k-die multisets drawn from die
// types t.. within their counts.
type space struct {
	st   stock
	ways [][dice.PoolSize + 1]int
}

func newSpace(st stock) space {
	types := len(st.dice)
	ways := make([][dice.PoolSize + 1]int, types+1)
	ways[types][0] = 1
	for t := types - 1; t >= 0; t-- {
		for k := 0; k <= dice.PoolSize; k++ {
			for c := 0; c <= min(st.count[t], k); c++ {
				ways[t][k] += ways[t+1][k-c]
			}
		}
	}
	return space{st: st, ways: ways}
}

func (s space) size() int { return s.ways[0][dice.PoolSize] }

// unrank returns multiset i in lexicographic order of per-type counts, with
// dice sorted by ID.
//
// Precondition: 0 <= i < s.size().
func (s space) unrank(i int) []*dice.Die {
	out := make([]*dice.Die, 0, dice.PoolSize)
	k := dice.PoolSize
	for t := 0; t < len(s.st.dice) && k > 0; t++ {
		for c := 0; c <= min(s.st.count[t], k); c++ {
			w := s.ways[t+1][k-c]
			if i < w {
				for j := 0; j < c; j++ {
					out = append(out, s.st.dice[t])
				}
				k -= c
				break
			}
			i -= w
		}
	}
	return out
}
