// Package dice provides the die model, the six-die pool, and the randomness
// abstraction used by the turn and game simulators.
package dice

import (
	"errors"
	"fmt"
	"strings"
)

// Faces is the number of faces on every die.
const Faces = 6

// PoolSize is the exact number of dice in a DicePool.
const PoolSize = 6

// ErrInvalidDie is returned when a die's weights are negative or all zero.
var ErrInvalidDie = errors.New("invalid die")

// ErrInvalidPoolSize is returned when a pool does not hold exactly six dice.
var ErrInvalidPoolSize = errors.New("invalid pool size")

// Probabilities converts six face weights into face probabilities.
//
// Precondition: none; invalid weights are reported, not panicked on.
// Postcondition: on success the six values sum to 1 within floating tolerance;
// returns ErrInvalidDie if any weight is negative or all weights are zero.
func Probabilities(weights [Faces]float64) ([Faces]float64, error) {
	var probs [Faces]float64
	total := 0.0
	for i, w := range weights {
		if w < 0 {
			return probs, fmt.Errorf("%w: face %d has negative weight %v", ErrInvalidDie, i+1, w)
		}
		total += w
	}
	if total == 0 {
		return probs, fmt.Errorf("%w: all weights are zero", ErrInvalidDie)
	}
	for i, w := range weights {
		probs[i] = w / total
	}
	return probs, nil
}

// Die is one die with a fixed face-weight distribution.
//
// Invariant: immutable after NewDie; safe to share between pools and goroutines.
type Die struct {
	ID          string
	Name        string
	Description string

	weights    [Faces]float64
	probs      [Faces]float64
	cumulative [Faces]float64
}

// NewDie constructs a Die from six face weights.
//
// Precondition: id must be non-empty.
// Postcondition: Returns a valid Die or an error wrapping ErrInvalidDie.
func NewDie(id, name string, weights [Faces]float64) (*Die, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id must not be empty", ErrInvalidDie)
	}
	probs, err := Probabilities(weights)
	if err != nil {
		return nil, fmt.Errorf("die %q: %w", id, err)
	}
	d := &Die{ID: id, Name: name, weights: weights, probs: probs}
	acc := 0.0
	for i, p := range probs {
		acc += p
		d.cumulative[i] = acc
	}
	d.cumulative[Faces-1] = 1
	if d.Name == "" {
		d.Name = id
	}
	return d, nil
}

// MustDie is NewDie that panics on error. Useful for fixtures and built-in dice.
func MustDie(id, name string, weights [Faces]float64) *Die {
	d, err := NewDie(id, name, weights)
	if err != nil {
		panic("dice: MustDie: " + err.Error())
	}
	return d
}

// Fair returns a uniform six-sided die.
func Fair() *Die {
	return MustDie("ordinary", "Ordinary die", [Faces]float64{1, 1, 1, 1, 1, 1})
}

// Weights returns the raw face weights.
func (d *Die) Weights() [Faces]float64 { return d.weights }

// Probabilities returns the six face probabilities.
//
// Postcondition: values sum to 1 within floating tolerance.
func (d *Die) Probabilities() [Faces]float64 { return d.probs }

// ProbabilityOf returns the probability of rolling face.
//
// Precondition: face in [1, 6]; any other face has probability 0.
func (d *Die) ProbabilityOf(face int) float64 {
	if face < 1 || face > Faces {
		return 0
	}
	return d.probs[face-1]
}

// Draw samples one face in [1, 6] proportional to the die's weights.
//
// Precondition: src must be non-nil.
// Postcondition: deterministic for a given src stream; consumes one Float64.
func (d *Die) Draw(src Source) int {
	u := src.Float64()
	for i, c := range d.cumulative {
		if u < c {
			return i + 1
		}
	}
	return Faces
}

// Pool is the ordered set of six dice assigned to one participant.
//
// Invariant: len(dice) == PoolSize; immutable after NewPool.
type Pool struct {
	dice [PoolSize]*Die
}

// NewPool assembles a Pool.
//
// Precondition: every element of dice must be non-nil.
// Postcondition: Returns a Pool or an error wrapping ErrInvalidPoolSize.
func NewPool(dice []*Die) (*Pool, error) {
	if len(dice) != PoolSize {
		return nil, fmt.Errorf("%w: want %d dice, got %d", ErrInvalidPoolSize, PoolSize, len(dice))
	}
	p := &Pool{}
	for i, d := range dice {
		if d == nil {
			return nil, fmt.Errorf("%w: die %d is nil", ErrInvalidPoolSize, i)
		}
		p.dice[i] = d
	}
	return p, nil
}

// Uniform returns a pool of six copies of d.
func Uniform(d *Die) *Pool {
	p := &Pool{}
	for i := range p.dice {
		p.dice[i] = d
	}
	return p
}

// Die returns the die at position i.
//
// Precondition: 0 <= i < PoolSize.
func (p *Pool) Die(i int) *Die { return p.dice[i] }

// Dice returns a copy of the pool's dice.
func (p *Pool) Dice() []*Die {
	out := make([]*Die, PoolSize)
	copy(out, p.dice[:])
	return out
}

// Subset returns the dice at the given positions, in order.
func (p *Pool) Subset(positions []int) []*Die {
	out := make([]*Die, len(positions))
	for i, pos := range positions {
		out[i] = p.dice[pos]
	}
	return out
}

// String returns a composition summary such as "3x Odd die, 3x Ordinary die".
func (p *Pool) String() string {
	counts := make(map[string]int)
	var order []string
	for _, d := range p.dice {
		if counts[d.Name] == 0 {
			order = append(order, d.Name)
		}
		counts[d.Name]++
	}
	parts := make([]string, 0, len(order))
	for _, name := range order {
		parts = append(parts, fmt.Sprintf("%dx %s", counts[name], name))
	}
	return strings.Join(parts, ", ")
}
