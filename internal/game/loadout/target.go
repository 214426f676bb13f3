// Package loadout selects dice from an inventory: for wanted faces at given
// positions, or for the highest simulated turn score.
package loadout

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/montecarlo"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
)

// ErrCombinatorialOverflow is returned when an exhaustive search would exceed
// its limit. It wraps montecarlo.ErrCombinatorialOverflow.
var ErrCombinatorialOverflow = fmt.Errorf("loadout: %w", montecarlo.ErrCombinatorialOverflow)

// DefaultTargetLimit bounds the assignments an exhaustive target search may
// visit.
const DefaultTargetLimit = 1_000_000

// Mode selects how dice are assigned to target positions.
type Mode int

const (
	// ModeGreedy fills positions one at a time with the best remaining die.
	ModeGreedy Mode = iota
	// ModeExhaustive tries every assignment of die types to positions.
	ModeExhaustive
)

func (m Mode) String() string {
	if m == ModeExhaustive {
		return "exhaustive"
	}
	return "greedy"
}

// ParseMode parses "greedy" or "exhaustive".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "greedy":
		return ModeGreedy, nil
	case "exhaustive":
		return ModeExhaustive, nil
	}
	return ModeGreedy, fmt.Errorf("loadout: unknown mode %q", s)
}

// TargetRequest asks for the dice most likely to show Targets.
type TargetRequest struct {
	Inventory dice.Inventory
	Catalog   *dice.Catalog
	// Engine values the dice that fill free positions.
	Engine *scoring.Engine
	// Targets holds the wanted face per position; 0 leaves a position free.
	// Missing trailing entries are free.
	Targets []int
	// Weights scales each position's probability; nil weighs every
	// position 1.
	Weights []float64
	// DiceCount is the number of positions; <= 0 uses dice.PoolSize.
	DiceCount int
	Mode      Mode
	// Limit bounds the assignments visited in exhaustive mode; <= 0 uses
	// DefaultTargetLimit.
	Limit int
}

// Pick is the die chosen for one position.
type Pick struct {
	Position int
	// Target is the wanted face, or 0 for a free position.
	Target int
	Die    *dice.Die
	// Probability is the chance Die shows Target; 0 for a free position.
	Probability float64
}

// TargetResult is the chosen selection.
type TargetResult struct {
	Picks []Pick
	// Pool is the selection as a pool when DiceCount == dice.PoolSize.
	Pool *dice.Pool
	// Score is the weighted sum of target probabilities.
	Score float64
	// Joint is the probability that every targeted position shows its
	// target on one roll.
	Joint float64
	// Visited counts the complete assignments scored.
	Visited int
}

// Dice returns the chosen dice in position order.
func (r TargetResult) Dice() []*dice.Die {
	out := make([]*dice.Die, len(r.Picks))
	for i, p := range r.Picks {
		out[i] = p.Die
	}
	return out
}

// stock is the inventory as parallel slices in die ID order.
type stock struct {
	dice  []*dice.Die
	count []int
}

func newStock(inv dice.Inventory, catalog *dice.Catalog) (stock, error) {
	if catalog == nil {
		return stock{}, errors.New("loadout: catalog must not be nil")
	}
	if err := inv.Validate(catalog); err != nil {
		return stock{}, err
	}
	var s stock
	for _, id := range inv.IDs() {
		if inv[id] <= 0 {
			continue
		}
		d, _ := catalog.Get(id)
		s.dice = append(s.dice, d)
		s.count = append(s.count, inv[id])
	}
	return s, nil
}

func (s stock) total() int {
	n := 0
	for _, c := range s.count {
		n += c
	}
	return n
}

type position struct {
	index  int
	target int
	weight float64
}

// ComputeTargetCombination selects dice from req.Inventory that maximise the
// weighted probability of showing req.Targets. Free positions are filled
// afterwards with the remaining dice of highest single-roll value under
// req.Engine.
//
// Precondition: req.Catalog and req.Engine are non-nil; targets are in
// [0, 6]; weights are non-negative.
// Postcondition: Returns ErrInvalidPoolSize when the inventory holds fewer
// than DiceCount dice and ErrCombinatorialOverflow, before any search, when
// the exhaustive assignment bound exceeds the limit.
func ComputeTargetCombination(req TargetRequest) (TargetResult, error) {
	if req.Engine == nil {
		return TargetResult{}, errors.New("loadout: engine must not be nil")
	}
	n := req.DiceCount
	if n <= 0 {
		n = dice.PoolSize
	}
	if n > dice.PoolSize {
		return TargetResult{}, fmt.Errorf("%w: at most %d positions, got %d", dice.ErrInvalidPoolSize, dice.PoolSize, n)
	}
	if len(req.Targets) > n {
		return TargetResult{}, fmt.Errorf("loadout: %d targets for %d positions", len(req.Targets), n)
	}
	if req.Weights != nil && len(req.Weights) != len(req.Targets) {
		return TargetResult{}, fmt.Errorf("loadout: %d weights for %d targets", len(req.Weights), len(req.Targets))
	}
	st, err := newStock(req.Inventory, req.Catalog)
	if err != nil {
		return TargetResult{}, err
	}
	if st.total() < n {
		return TargetResult{}, fmt.Errorf("%w: inventory holds %d dice, need %d", dice.ErrInvalidPoolSize, st.total(), n)
	}

	var targeted []position
	for i, f := range req.Targets {
		if f < 0 || f > dice.Faces {
			return TargetResult{}, fmt.Errorf("loadout: target %d at position %d out of range", f, i)
		}
		w := 1.0
		if req.Weights != nil {
			w = req.Weights[i]
		}
		if w < 0 {
			return TargetResult{}, fmt.Errorf("loadout: weight %g at position %d is negative", w, i)
		}
		if f > 0 {
			targeted = append(targeted, position{index: i, target: f, weight: w})
		}
	}

	var chosen []int
	visited := 1
	switch req.Mode {
	case ModeExhaustive:
		limit := req.Limit
		if limit <= 0 {
			limit = DefaultTargetLimit
		}
		if b := assignmentBound(len(st.dice), len(targeted), limit); b > limit {
			return TargetResult{}, fmt.Errorf("%w: more than %d assignments of %d die types to %d positions",
				ErrCombinatorialOverflow, limit, len(st.dice), len(targeted))
		}
		chosen, visited = exhaustive(st, targeted)
	default:
		chosen = greedy(st, targeted)
	}

	picks := make([]Pick, n)
	res := TargetResult{Joint: 1, Visited: visited}
	for k, pos := range targeted {
		d := st.dice[chosen[k]]
		st.count[chosen[k]]--
		p := d.ProbabilityOf(pos.target)
		picks[pos.index] = Pick{Position: pos.index, Target: pos.target, Die: d, Probability: p}
		res.Score += pos.weight * p
		res.Joint *= p
	}
	for i := range picks {
		if picks[i].Die != nil {
			continue
		}
		k := bestSingles(st, req.Engine)
		st.count[k]--
		picks[i] = Pick{Position: i, Die: st.dice[k]}
	}
	res.Picks = picks
	if n == dice.PoolSize {
		pool, err := dice.NewPool(res.Dice())
		if err != nil {
			return TargetResult{}, err
		}
		res.Pool = pool
	}
	return res, nil
}

// greedy visits positions by descending weight, then position, and gives
// each the remaining die type most likely to show its target.
func greedy(st stock, targeted []position) []int {
	order := make([]int, len(targeted))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return targeted[order[a]].weight > targeted[order[b]].weight })

	left := append([]int(nil), st.count...)
	chosen := make([]int, len(targeted))
	for _, k := range order {
		best := -1
		for t, d := range st.dice {
			if left[t] == 0 {
				continue
			}
			if best < 0 || d.ProbabilityOf(targeted[k].target) > st.dice[best].ProbabilityOf(targeted[k].target) {
				best = t
			}
		}
		left[best]--
		chosen[k] = best
	}
	return chosen
}

const epsilon = 1e-12

// exhaustive scores every assignment of die types to targeted positions
// within stock counts. Ties keep the first assignment in die ID order.
func exhaustive(st stock, targeted []position) ([]int, int) {
	left := append([]int(nil), st.count...)
	cur := make([]int, len(targeted))
	var best []int
	bestScore, bestJoint := -1.0, -1.0
	visited := 0

	var walk func(k int, score, joint float64)
	walk = func(k int, score, joint float64) {
		if k == len(targeted) {
			visited++
			if score > bestScore+epsilon || (score > bestScore-epsilon && joint > bestJoint+epsilon) {
				best = append(best[:0], cur...)
				bestScore, bestJoint = score, joint
			}
			return
		}
		pos := targeted[k]
		for t, d := range st.dice {
			if left[t] == 0 {
				continue
			}
			p := d.ProbabilityOf(pos.target)
			left[t]--
			cur[k] = t
			walk(k+1, score+pos.weight*p, joint*p)
			left[t]++
		}
	}
	walk(0, 0, 1)
	return best, visited
}

// assignmentBound returns types^positions, saturating just above limit.
func assignmentBound(types, positions, limit int) int {
	b := 1
	for i := 0; i < positions; i++ {
		b *= types
		if b > limit {
			return limit + 1
		}
	}
	return b
}

// bestSingles returns the remaining die type with the highest expected
// points rolled alone.
func bestSingles(st stock, engine *scoring.Engine) int {
	best, bestV := -1, -1.0
	for t, d := range st.dice {
		if st.count[t] == 0 {
			continue
		}
		if v := engine.SingleValue(d); v > bestV+epsilon {
			best, bestV = t, v
		}
	}
	return best
}
