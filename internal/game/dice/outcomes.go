package dice

// OutcomeCount returns the number of ordered face outcomes of rolling n dice (6^n).
func OutcomeCount(n int) int {
	total := 1
	for i := 0; i < n; i++ {
		total *= Faces
	}
	return total
}

// EachOutcome calls fn once for every ordered face outcome of rolling dice,
// with the joint probability of that outcome. Outcomes whose probability is
// zero are skipped.
//
// Precondition: every element of dice must be non-nil.
// Postcondition: the probabilities passed to fn sum to 1 within floating
// tolerance; faces[i] was rolled by dice[i]. fn must not retain faces.
func EachOutcome(dice []*Die, fn func(faces []int, p float64)) {
	faces := make([]int, len(dice))
	var walk func(i int, p float64)
	walk = func(i int, p float64) {
		if i == len(dice) {
			fn(faces, p)
			return
		}
		for f := 1; f <= Faces; f++ {
			q := dice[i].probs[f-1]
			if q == 0 {
				continue
			}
			faces[i] = f
			walk(i+1, p*q)
		}
	}
	walk(0, 1)
}
