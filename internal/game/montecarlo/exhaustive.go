package montecarlo

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// maxExactDepth bounds the number of rolls one enumerated turn may take.
const maxExactDepth = 200

// bustKey marks bust mass inside a distribution.
const bustKey = -1

// ExactResult is the exact final-score distribution of one turn.
type ExactResult struct {
	Mean   float64
	StdDev float64
	PBust  float64
	// Distribution lists every final score ascending. Busts are folded into
	// the 0 entry.
	Distribution []scoring.Outcome
	// Outcomes is the number of roll outcomes enumerated.
	Outcomes int
	// States is the number of distinct rolling states visited.
	States int
}

type stateKey struct {
	hand                           uint8
	score, rolls, totalRolls, clrs int
}

type dist []scoring.Outcome

type exact struct {
	sim      *turn.Simulator
	memo     map[stateKey]dist
	limit    int
	outcomes int
}

// Exhaustive enumerates every roll outcome of spec's turn, weighting each by
// its exact probability, instead of sampling. Identical rolling states are
// evaluated once.
//
// Precondition: spec.Policy must be deterministic in the turn state.
// Postcondition: returns ErrCombinatorialOverflow before enumerating when a
// single roll of the full hand already exceeds the limit, and as soon as the
// running outcome count does.
func (e *Estimator) Exhaustive(spec TurnSpec) (ExactResult, error) {
	if err := spec.validate(); err != nil {
		return ExactResult{}, err
	}
	if e.Engine == nil {
		return ExactResult{}, errors.New("montecarlo: estimator has no engine")
	}
	limit := e.ExhaustiveLimit
	if limit <= 0 {
		limit = defaultExhaustiveLimit
	}
	if n := dice.OutcomeCount(dice.PoolSize); n > limit {
		return ExactResult{}, fmt.Errorf("%w: one roll has %d outcomes, limit is %d", ErrCombinatorialOverflow, n, limit)
	}

	x := &exact{
		sim:   turn.NewSimulator(turn.Config{Engine: e.Engine, Policy: spec.Policy, Rules: spec.Rules, Logger: e.Logger}),
		memo:  make(map[stateKey]dist),
		limit: limit,
	}
	d, err := x.rolling(x.sim.Begin(spec.Pool, spec.Game))
	if err != nil {
		return ExactResult{}, err
	}

	res := ExactResult{Outcomes: x.outcomes, States: len(x.memo)}
	var zero float64
	var sum, sumSq float64
	for _, o := range d {
		if o.Points == bustKey {
			res.PBust = o.Probability
			zero += o.Probability
			continue
		}
		if o.Points == 0 {
			zero += o.Probability
			continue
		}
		res.Distribution = append(res.Distribution, o)
		sum += o.Probability * float64(o.Points)
		sumSq += o.Probability * float64(o.Points) * float64(o.Points)
	}
	if zero > 0 {
		res.Distribution = append([]scoring.Outcome{{Points: 0, Probability: zero}}, res.Distribution...)
	}
	res.Mean = sum
	res.StdDev = math.Sqrt(math.Max(0, sumSq-sum*sum))

	e.logger().Debug("exhaustive evaluation complete",
		zap.String("policy", spec.Policy.Name()),
		zap.Int("outcomes", res.Outcomes),
		zap.Int("states", res.States),
		zap.Float64("mean", res.Mean),
	)
	return res, nil
}

func keyOf(s *turn.State) stateKey {
	var mask uint8
	for _, pos := range s.Hand {
		mask |= 1 << pos
	}
	return stateKey{hand: mask, score: s.TurnScore, rolls: s.Rolls, totalRolls: s.TotalRolls, clrs: s.Clears}
}

// rolling returns the final-score distribution of a state about to roll.
func (x *exact) rolling(s *turn.State) (dist, error) {
	key := keyOf(s)
	if d, ok := x.memo[key]; ok {
		return d, nil
	}
	if s.TotalRolls >= maxExactDepth {
		return nil, fmt.Errorf("%w: turn exceeds %d rolls", ErrCombinatorialOverflow, maxExactDepth)
	}

	acc := make(map[int]float64)
	var err error
	dice.EachOutcome(s.HandDice(), func(faces []int, p float64) {
		if err != nil {
			return
		}
		x.outcomes++
		if x.outcomes > x.limit {
			err = fmt.Errorf("%w: more than %d outcomes", ErrCombinatorialOverflow, x.limit)
			return
		}
		c := s.Clone()
		x.sim.SetFaces(c, faces)
		for !c.Phase.Terminal() && c.Phase != turn.Rolling {
			x.sim.Step(c, nil)
		}
		switch c.Phase {
		case turn.Busted:
			acc[bustKey] += p
		case turn.Banked:
			acc[c.TurnScore] += p
		default:
			sub, subErr := x.rolling(c)
			if subErr != nil {
				err = subErr
				return
			}
			for _, o := range sub {
				acc[o.Points] += p * o.Probability
			}
		}
	})
	if err != nil {
		return nil, err
	}

	keys := make([]int, 0, len(acc))
	for k := range acc {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	d := make(dist, len(keys))
	for i, k := range keys {
		d[i] = scoring.Outcome{Points: k, Probability: acc[k]}
	}
	x.memo[key] = d
	return d, nil
}
