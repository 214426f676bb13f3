package policy

import (
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// thresholdPolicy banks once the turn score reaches BankAt or too few dice
// would be left.
type thresholdPolicy struct {
	profiled
	chooser chooser
}

func (t *thresholdPolicy) Decide(s *turn.State, options []scoring.Option, g turn.GameContext) turn.Decision {
	i := t.chooser.pick(options)
	opt := options[i]
	if g.FinalTurn {
		return turn.Decision{Choice: i, Action: turn.Continue}
	}
	score := s.TurnScore + opt.Points
	left := diceLeft(s, opt, t.p.RerollOnClear)
	if (t.p.BankAt > 0 && score >= t.p.BankAt) || left < t.p.BankIfDiceBelow {
		return turn.Decision{Choice: i, Action: turn.Bank}
	}
	return turn.Decision{Choice: i, Action: turn.Continue}
}

// heuristicPolicy values each remaining die at 25 points discounted by a
// bust risk of 10% per die, adds 150 for a clear that rerolls, and banks when
// the turn score already beats the best option's value.
type heuristicPolicy struct {
	profiled
}

func heuristicValue(opt scoring.Option, reroll bool) float64 {
	v := float64(opt.Points)
	switch {
	case opt.Remaining > 0:
		risk := max(0.1, 0.1*float64(opt.Remaining))
		v += float64(opt.Remaining) * 25 * (1 - risk)
	case reroll:
		v += 150
	}
	return v
}

func (h *heuristicPolicy) Decide(s *turn.State, options []scoring.Option, g turn.GameContext) turn.Decision {
	best, bestValue := 0, heuristicValue(options[0], h.p.RerollOnClear)
	for i, o := range options[1:] {
		if v := heuristicValue(o, h.p.RerollOnClear); v > bestValue {
			best, bestValue = i+1, v
		}
	}
	if g.FinalTurn {
		return turn.Decision{Choice: best, Action: turn.Continue}
	}
	left := diceLeft(s, options[best], h.p.RerollOnClear)
	if float64(s.TurnScore) > bestValue || left < h.p.BankIfDiceBelow ||
		(h.p.BankAt > 0 && s.TurnScore+options[best].Points >= h.p.BankAt) {
		return turn.Decision{Choice: best, Action: turn.Bank}
	}
	return turn.Decision{Choice: best, Action: turn.Continue}
}
