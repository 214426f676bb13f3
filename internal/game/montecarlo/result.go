package montecarlo

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/cory-johannsen/kcddice/internal/game/match"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// ScoreCount is one entry of a score histogram.
type ScoreCount struct {
	Score int
	Count int
}

// histogram counts integer values. Statistics are computed by walking keys in
// ascending order so they do not depend on map iteration order.
type histogram map[int]int

func (h histogram) merge(o histogram) {
	for k, v := range o {
		h[k] += v
	}
}

func (h histogram) keys() []int {
	ks := make([]int, 0, len(h))
	for k := range h {
		ks = append(ks, k)
	}
	sort.Ints(ks)
	return ks
}

func (h histogram) total() int {
	n := 0
	for _, v := range h {
		n += v
	}
	return n
}

// moments returns the mean and population standard deviation.
func (h histogram) moments() (mean, sd float64) {
	n := h.total()
	if n == 0 {
		return 0, 0
	}
	keys := h.keys()
	var sum float64
	for _, k := range keys {
		sum += float64(k) * float64(h[k])
	}
	mean = sum / float64(n)
	var ss float64
	for _, k := range keys {
		d := float64(k) - mean
		ss += d * d * float64(h[k])
	}
	return mean, math.Sqrt(ss / float64(n))
}

// Result aggregates sampled turns.
type Result struct {
	// Trials is the number of completed turns.
	Trials    int
	Requested int
	Busts     int
	Clears    int
	MaxScore  int
	// Scores is the histogram of final turn scores; busts count as 0.
	Scores histogram
	// Rolls is the histogram of rolls taken per turn.
	Rolls     histogram
	Cancelled bool
	Elapsed   time.Duration
}

func newResult() *Result {
	return &Result{Scores: histogram{}, Rolls: histogram{}}
}

func (r *Result) add(t turn.Result) {
	r.Trials++
	r.Scores[t.Score]++
	r.Rolls[t.Rolls]++
	r.Clears += t.Clears
	if t.Busted {
		r.Busts++
	}
	r.MaxScore = max(r.MaxScore, t.Score)
}

func (r *Result) merge(o *Result) {
	r.Trials += o.Trials
	r.Busts += o.Busts
	r.Clears += o.Clears
	r.MaxScore = max(r.MaxScore, o.MaxScore)
	r.Scores.merge(o.Scores)
	r.Rolls.merge(o.Rolls)
}

// Mean returns the average turn score.
func (r Result) Mean() float64 {
	m, _ := r.Scores.moments()
	return m
}

// StdDev returns the population standard deviation of turn scores.
func (r Result) StdDev() float64 {
	_, sd := r.Scores.moments()
	return sd
}

// StdErr returns the standard error of Mean.
func (r Result) StdErr() float64 {
	if r.Trials == 0 {
		return 0
	}
	return r.StdDev() / math.Sqrt(float64(r.Trials))
}

// CI95 returns the normal-approximation 95% confidence interval of Mean.
func (r Result) CI95() (lo, hi float64) {
	m, se := r.Mean(), r.StdErr()
	return m - 1.96*se, m + 1.96*se
}

// BustRate returns the fraction of turns that busted.
func (r Result) BustRate() float64 {
	if r.Trials == 0 {
		return 0
	}
	return float64(r.Busts) / float64(r.Trials)
}

// AvgRolls returns the mean number of rolls per turn.
func (r Result) AvgRolls() float64 {
	m, _ := r.Rolls.moments()
	return m
}

// ClearRate returns the mean number of clears per turn.
func (r Result) ClearRate() float64 {
	if r.Trials == 0 {
		return 0
	}
	return float64(r.Clears) / float64(r.Trials)
}

// TopScores returns up to n scores ordered by frequency descending, then
// score descending.
func (r Result) TopScores(n int) []ScoreCount {
	out := make([]ScoreCount, 0, len(r.Scores))
	for _, k := range r.Scores.keys() {
		out = append(out, ScoreCount{Score: k, Count: r.Scores[k]})
	}
	slices.SortStableFunc(out, func(a, b ScoreCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return b.Score - a.Score
	})
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// GameResult aggregates sampled games.
type GameResult struct {
	// Games is the number of completed games.
	Games     int
	Requested int
	Wins      [2]int
	Draws     int
	// OpenerWins counts games won by the side that took the first turn.
	OpenerWins int
	// MarginSum is the sum of |score difference| over decided games.
	MarginSum   int64
	ScoreSum    [2]int64
	ExtraRounds int
	// Turns is the histogram of game length in turns.
	Turns     histogram
	Cancelled bool
	Elapsed   time.Duration
}

func newGameResult() *GameResult {
	return &GameResult{Turns: histogram{}}
}

func (r *GameResult) add(o match.Outcome) {
	r.Games++
	r.Turns[o.Turns]++
	r.ScoreSum[0] += int64(o.Scores[0])
	r.ScoreSum[1] += int64(o.Scores[1])
	r.ExtraRounds += o.ExtraRounds
	if o.Winner == match.Draw {
		r.Draws++
		return
	}
	r.Wins[o.Winner]++
	r.MarginSum += int64(abs(o.Margin))
	if o.Winner == o.First {
		r.OpenerWins++
	}
}

func (r *GameResult) merge(o *GameResult) {
	r.Games += o.Games
	r.Wins[0] += o.Wins[0]
	r.Wins[1] += o.Wins[1]
	r.Draws += o.Draws
	r.OpenerWins += o.OpenerWins
	r.MarginSum += o.MarginSum
	r.ScoreSum[0] += o.ScoreSum[0]
	r.ScoreSum[1] += o.ScoreSum[1]
	r.ExtraRounds += o.ExtraRounds
	r.Turns.merge(o.Turns)
}

func (r GameResult) rate(n int) float64 {
	if r.Games == 0 {
		return 0
	}
	return float64(n) / float64(r.Games)
}

// WinRate returns the fraction of games won by side.
func (r GameResult) WinRate(side int) float64 { return r.rate(r.Wins[side]) }

// DrawRate returns the fraction of drawn games.
func (r GameResult) DrawRate() float64 { return r.rate(r.Draws) }

// OpenerWinRate returns the fraction of games won by the opening side.
func (r GameResult) OpenerWinRate() float64 { return r.rate(r.OpenerWins) }

// AvgMargin returns the mean winning margin over decided games.
func (r GameResult) AvgMargin() float64 {
	decided := r.Wins[0] + r.Wins[1]
	if decided == 0 {
		return 0
	}
	return float64(r.MarginSum) / float64(decided)
}

// AvgScore returns side's mean final score.
func (r GameResult) AvgScore(side int) float64 {
	if r.Games == 0 {
		return 0
	}
	return float64(r.ScoreSum[side]) / float64(r.Games)
}

// AvgTurns returns the mean game length in turns.
func (r GameResult) AvgTurns() float64 {
	m, _ := r.Turns.moments()
	return m
}

// LengthShare is the fraction of games that lasted Turns turns.
type LengthShare struct {
	Turns int
	Share float64
}

// Lengths returns the game-length distribution ascending by turns.
func (r GameResult) Lengths() []LengthShare {
	out := make([]LengthShare, 0, len(r.Turns))
	for _, k := range r.Turns.keys() {
		out = append(out, LengthShare{Turns: k, Share: r.rate(r.Turns[k])})
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
