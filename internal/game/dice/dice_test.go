package dice_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
)

// TestProbabilities_OddDie verifies percentages recovered from the 6,1,6,1,6,1 weight table.
func TestProbabilities_OddDie(t *testing.T) {
	probs, err := dice.Probabilities([6]float64{6, 1, 6, 1, 6, 1})
	require.NoError(t, err)
	want := []float64{28.6, 4.8, 28.6, 4.8, 28.6, 4.8}
	for i, p := range probs {
		assert.InDelta(t, want[i], math.Round(p*1000)/10, 1e-9, "face %d", i+1)
	}
}

func TestProbabilities_RejectsNegative(t *testing.T) {
	_, err := dice.Probabilities([6]float64{1, 1, -1, 1, 1, 1})
	assert.ErrorIs(t, err, dice.ErrInvalidDie)
}

func TestProbabilities_RejectsAllZero(t *testing.T) {
	_, err := dice.Probabilities([6]float64{})
	assert.ErrorIs(t, err, dice.ErrInvalidDie)
}

func TestNewDie_RejectsEmptyID(t *testing.T) {
	_, err := dice.NewDie("", "x", [6]float64{1, 1, 1, 1, 1, 1})
	assert.ErrorIs(t, err, dice.ErrInvalidDie)
}

// TestProbabilities_SumToOne_Property checks the sum invariant for arbitrary valid weights.
func TestProbabilities_SumToOne_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var w [6]float64
		for i := range w {
			w[i] = rapid.Float64Range(0, 1000).Draw(rt, "weight")
		}
		w[rapid.IntRange(0, 5).Draw(rt, "nonzero")] += 1
		d, err := dice.NewDie("d", "d", w)
		require.NoError(rt, err)
		sum := 0.0
		for _, p := range d.Probabilities() {
			sum += p
		}
		assert.InDelta(rt, 1.0, sum, 1e-9)
	})
}

func TestDraw_Deterministic(t *testing.T) {
	d := dice.MustDie("odd", "Odd die", [6]float64{6, 1, 6, 1, 6, 1})
	a := dice.NewSeededSource(42, 7)
	b := dice.NewSeededSource(42, 7)
	for i := 0; i < 200; i++ {
		require.Equal(t, d.Draw(a), d.Draw(b), "draw %d", i)
	}
}

func TestDraw_NeverRollsZeroWeightFace(t *testing.T) {
	d := dice.MustDie("loaded", "Loaded", [6]float64{0, 0, 0, 0, 0, 1})
	src := dice.NewSeededSource(1, 0)
	for i := 0; i < 500; i++ {
		require.Equal(t, 6, d.Draw(src))
	}
}

func TestDraw_Distribution(t *testing.T) {
	d := dice.MustDie("odd", "Odd die", [6]float64{6, 1, 6, 1, 6, 1})
	src := dice.NewSeededSource(99, 0)
	var counts [7]int
	const n = 60000
	for i := 0; i < n; i++ {
		counts[d.Draw(src)]++
	}
	for face := 1; face <= 6; face++ {
		assert.InDelta(t, d.ProbabilityOf(face), float64(counts[face])/n, 0.01, "face %d", face)
	}
}

func TestNewPool_RequiresSixDice(t *testing.T) {
	fair := dice.Fair()
	_, err := dice.NewPool([]*dice.Die{fair, fair, fair})
	assert.ErrorIs(t, err, dice.ErrInvalidPoolSize)

	_, err = dice.NewPool([]*dice.Die{fair, fair, fair, fair, fair, fair, fair})
	assert.ErrorIs(t, err, dice.ErrInvalidPoolSize)

	p, err := dice.NewPool([]*dice.Die{fair, fair, fair, fair, fair, fair})
	require.NoError(t, err)
	assert.Equal(t, "6x Ordinary die", p.String())
}

func TestRoll_MatchesHand(t *testing.T) {
	pool := dice.Uniform(dice.Fair())
	res := dice.Roll(pool, []int{0, 3, 5}, dice.NewSeededSource(3, 3))
	assert.Equal(t, []int{0, 3, 5}, res.Positions)
	require.Len(t, res.Faces, 3)
	for _, f := range res.Faces {
		assert.GreaterOrEqual(t, f, 1)
		assert.LessOrEqual(t, f, 6)
	}
	assert.Contains(t, res.String(), "→")
}

func TestLoggedRoller_NilLogger(t *testing.T) {
	r := dice.NewLoggedRoller(nil)
	res := r.Roll(dice.Uniform(dice.Fair()), []int{0, 1}, dice.NewSeededSource(5, 0))
	assert.Len(t, res.Faces, 2)
}

// TestCryptoSource_Intn_InRange verifies every value returned by Intn(6) is in [0, 6).
func TestCryptoSource_Intn_InRange(t *testing.T) {
	src := dice.NewCryptoSource()
	for i := 0; i < 1000; i++ {
		v := src.Intn(6)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 6)
		f := src.Float64()
		assert.GreaterOrEqual(t, f, 0.0)
		assert.Less(t, f, 1.0)
	}
}

// TestCryptoSource_Intn_PanicsOnZero verifies the precondition n > 0.
func TestCryptoSource_Intn_PanicsOnZero(t *testing.T) {
	src := dice.NewCryptoSource()
	assert.Panics(t, func() { src.Intn(0) })
}

func TestEachOutcome_SumsToOne(t *testing.T) {
	odd := dice.MustDie("odd", "Odd die", [6]float64{6, 1, 6, 1, 6, 1})
	loaded := dice.MustDie("six", "Six die", [6]float64{0, 0, 0, 0, 0, 1})
	n := 0
	sum := 0.0
	dice.EachOutcome([]*dice.Die{odd, dice.Fair(), loaded}, func(faces []int, p float64) {
		n++
		sum += p
		assert.Equal(t, 6, faces[2])
	})
	assert.Equal(t, 36, n)
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, 216, dice.OutcomeCount(3))
}
