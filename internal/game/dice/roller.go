package dice

import "fmt"

// RollResult holds the audit trail for one roll of the dice in hand.
//
// Postcondition: len(Faces) == len(Positions); Faces[i] was drawn from the
// pool die at Positions[i].
type RollResult struct {
	Positions []int // pool positions rolled
	Faces     []int // face shown by each rolled die
}

// String returns a human-readable audit string in the format:
//
//	"[0 1 4] → [5 2 1]"
func (r RollResult) String() string {
	return fmt.Sprintf("%v → %v", r.Positions, r.Faces)
}

// Roll draws one face for each pool position in hand.
//
// Precondition: pool and src must be non-nil; every position in [0, PoolSize).
// Postcondition: len(result.Faces) == len(hand); deterministic for a given src stream.
func Roll(pool *Pool, hand []int, src Source) RollResult {
	faces := make([]int, len(hand))
	for i, pos := range hand {
		faces[i] = pool.dice[pos].Draw(src)
	}
	positions := make([]int, len(hand))
	copy(positions, hand)
	return RollResult{Positions: positions, Faces: faces}
}
