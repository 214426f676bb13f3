package montecarlo

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
)

// DecisionSeed derives a rollout seed from the content of a decision on a
// live turn: the turn's score, hand, and faces, the game scores, the option's
// faces, kept dice and points, and the action. Equal decisions get equal seeds wherever
// they appear in an option list.
func DecisionSeed(base uint64, s *turn.State, opt scoring.Option, a turn.Action) uint64 {
	d := xxhash.New()
	var buf [8]byte
	put := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
		_, _ = d.Write(buf[:])
	}
	put(int(base >> 32))
	put(int(base & 0xffffffff))
	put(s.TurnScore)
	put(s.Rolls)
	put(s.TotalRolls)
	put(len(s.Hand))
	for _, pos := range s.Hand {
		put(pos)
	}
	for _, f := range s.Faces {
		put(f)
	}
	put(s.Game.OwnScore)
	put(s.Game.OpponentScore)
	put(-1)
	for _, f := range opt.Faces {
		put(f)
	}
	for _, id := range opt.DieIDs {
		_, _ = d.WriteString(id)
		_, _ = d.Write([]byte{0})
	}
	put(opt.Points)
	put(int(a))
	return d.Sum64()
}
