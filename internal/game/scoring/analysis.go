package scoring

import (
	"math"
	"sort"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
)

// Outcome is one best-score value of a roll and its probability.
type Outcome struct {
	Points      int
	Probability float64
}

// Analysis holds the exact statistics of a single roll of a set of dice,
// taking the highest-scoring option of each outcome.
type Analysis struct {
	Dice int
	// PBust is the probability the roll has no scoring option.
	PBust float64
	// Mean is the expected best points, counting a bust as 0.
	Mean float64
	// MeanIfScoring is the expected best points given the roll scores.
	MeanIfScoring float64
	// StdDev is the standard deviation of the best points, counting a bust as 0.
	StdDev float64
	// Distribution lists every best-points value, ascending by points.
	Distribution []Outcome
}

// PScore returns the probability the roll scores.
func (a Analysis) PScore() float64 { return 1 - a.PBust }

// Top returns up to n outcomes ordered by probability descending, then points descending.
func (a Analysis) Top(n int) []Outcome {
	out := make([]Outcome, len(a.Distribution))
	copy(out, a.Distribution)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].Points > out[j].Points
	})
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// After returns the mean and standard deviation of the turn score after
// rolling these dice once more from turn score t: 0 on a bust, otherwise t
// plus the best points.
func (a Analysis) After(t float64) (mean, sd float64) {
	ps := a.PScore()
	mean = ps*t + a.Mean
	second := ps*t*t + 2*t*a.Mean + a.StdDev*a.StdDev + a.Mean*a.Mean
	return mean, math.Sqrt(math.Max(0, second-mean*mean))
}

// Analyze enumerates all 6^k face outcomes of rolling dice once, weighting
// each by its exact joint probability.
//
// Precondition: len(dice) <= 6; every element non-nil.
// Postcondition: Distribution probabilities sum to 1 within floating tolerance.
// An empty dice slice yields PBust == 1.
func (e *Engine) Analyze(ds []*dice.Die) Analysis {
	if len(ds) > MaxDice {
		panic("scoring: Analyze called with more than 6 dice")
	}
	a := Analysis{Dice: len(ds)}
	if len(ds) == 0 {
		a.PBust = 1
		a.Distribution = []Outcome{{Points: 0, Probability: 1}}
		return a
	}
	byPoints := make(map[int]float64)
	dice.EachOutcome(ds, func(faces []int, p float64) {
		byPoints[e.bestOf(CountFaces(faces))] += p
	})

	points := make([]int, 0, len(byPoints))
	for pts := range byPoints {
		points = append(points, pts)
	}
	sort.Ints(points)

	var sum, sumSq float64
	for _, pts := range points {
		p := byPoints[pts]
		a.Distribution = append(a.Distribution, Outcome{Points: pts, Probability: p})
		if pts == 0 {
			a.PBust += p
			continue
		}
		sum += p * float64(pts)
		sumSq += p * float64(pts) * float64(pts)
	}
	a.Mean = sum
	if ps := a.PScore(); ps > 0 {
		a.MeanIfScoring = sum / ps
	}
	a.StdDev = math.Sqrt(math.Max(0, sumSq-sum*sum))
	return a
}

// SinglePoints returns the points each face scores rolled alone:
// SinglePoints()[f-1] for face f.
func (e *Engine) SinglePoints() [dice.Faces]int { return e.single }

// SingleValue returns the expected points of d rolled alone under the
// engine's rule table.
func (e *Engine) SingleValue(d *dice.Die) float64 {
	v := 0.0
	for i, p := range d.Probabilities() {
		v += p * float64(e.single[i])
	}
	return v
}
