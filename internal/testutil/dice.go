// Package testutil provides rigged dice and PostgreSQL container helpers for tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// Rigged returns a die that always shows face.
//
// Precondition: face in [1, 6].
func Rigged(face int) *dice.Die {
	var w [6]float64
	w[face-1] = 1
	return dice.MustDie(fmt.Sprintf("rigged_%d", face), fmt.Sprintf("Always %d", face), w)
}

// RiggedPool returns a pool whose die at position i always shows faces[i].
//
// Precondition: len(faces) == 6.
// Postcondition: Returns a Pool or fails the test.
func RiggedPool(t testing.TB, faces ...int) *dice.Pool {
	t.Helper()
	ds := make([]*dice.Die, len(faces))
	for i, f := range faces {
		ds[i] = Rigged(f)
	}
	p, err := dice.NewPool(ds)
	if err != nil {
		t.Fatalf("rigged pool %v: %v", faces, err)
	}
	return p
}

// Fixed returns a policy that always takes the first option with action.
func Fixed(action turn.Action, rerollOnClear bool) turn.Policy {
	return turn.PolicyFunc{
		ID:     "fixed_" + action.String(),
		Reroll: rerollOnClear,
		DecideF: func(*turn.State, []scoring.Option, turn.GameContext) turn.Decision {
			return turn.Decision{Choice: 0, Action: action}
		},
	}
}

// SinglesOnly returns an engine that scores only single 1s (100) and 5s (50).
func SinglesOnly() *scoring.Engine {
	return scoring.MustEngine(scoring.RuleTable{Name: "singles", Rules: []scoring.Rule{
		{ID: "single_1", Kind: scoring.KindSingle, Faces: []int{1}, Points: 100},
		{ID: "single_5", Kind: scoring.KindSingle, Faces: []int{5}, Points: 50},
	}})
}
