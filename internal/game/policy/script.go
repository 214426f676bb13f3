package policy

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
	"github.com/cory-johannsen/kcddice/internal/scripting"
)

// DecideHook is the Lua function a script profile must define:
//
//	function decide(turn, options, game)
//	  return { choice = 1, action = "bank" }
//	end
//
// choice is a 1-based index into options; action is "bank" or "continue".
const DecideHook = "decide"

// scriptPolicy runs the profile's Lua decide hook. Any script failure, an
// exhausted instruction budget, or a malformed return falls back to the base
// profile.
type scriptPolicy struct {
	profiled
	scripts *scripting.Manager
	base    turn.Policy
	logger  *zap.Logger
}

func (p *scriptPolicy) Decide(s *turn.State, options []scoring.Option, g turn.GameContext) turn.Decision {
	var d turn.Decision
	err := p.scripts.Call(p.p.ID, DecideHook,
		func(L *lua.LState) []lua.LValue {
			return []lua.LValue{turnTable(L, s), optionsTable(L, options), gameTable(L, g)}
		},
		func(ret lua.LValue) error {
			var err error
			d, err = readDecision(ret, len(options))
			return err
		},
	)
	if err != nil {
		p.logger.Warn("script policy failed; using base profile",
			zap.String("profile", p.p.ID),
			zap.String("base", p.base.Name()),
			zap.Error(err),
		)
		return p.base.Decide(s, options, g)
	}
	return d
}

func intList(L *lua.LState, xs []int) *lua.LTable {
	t := L.CreateTable(len(xs), 0)
	for _, x := range xs {
		t.Append(lua.LNumber(x))
	}
	return t
}

func turnTable(L *lua.LState, s *turn.State) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "score", lua.LNumber(s.TurnScore))
	L.SetField(t, "rolls", lua.LNumber(s.Rolls))
	L.SetField(t, "total_rolls", lua.LNumber(s.TotalRolls))
	L.SetField(t, "clears", lua.LNumber(s.Clears))
	L.SetField(t, "dice_left", lua.LNumber(len(s.Hand)))
	L.SetField(t, "faces", intList(L, s.Faces))
	return t
}

func optionsTable(L *lua.LState, options []scoring.Option) *lua.LTable {
	t := L.CreateTable(len(options), 0)
	for _, o := range options {
		ot := L.NewTable()
		L.SetField(ot, "points", lua.LNumber(o.Points))
		L.SetField(ot, "consumed", lua.LNumber(o.Consumed))
		L.SetField(ot, "remaining", lua.LNumber(o.Remaining))
		L.SetField(ot, "faces", intList(L, o.Faces))
		ids := L.CreateTable(len(o.DieIDs), 0)
		for _, id := range o.DieIDs {
			ids.Append(lua.LString(id))
		}
		L.SetField(ot, "dice", ids)
		t.Append(ot)
	}
	return t
}

func gameTable(L *lua.LState, g turn.GameContext) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "in_game", lua.LBool(g.InGame))
	L.SetField(t, "own", lua.LNumber(g.OwnScore))
	L.SetField(t, "opponent", lua.LNumber(g.OpponentScore))
	L.SetField(t, "cap", lua.LNumber(g.PointCap))
	L.SetField(t, "final_turn", lua.LBool(g.FinalTurn))
	L.SetField(t, "extra_round", lua.LBool(g.ExtraRound))
	L.SetField(t, "turn", lua.LNumber(g.Turn))
	L.SetField(t, "needed", lua.LNumber(g.Needed()))
	return t
}

var errBadReturn = errors.New("decide must return {choice = n, action = \"bank\"|\"continue\"}")

func readDecision(ret lua.LValue, n int) (turn.Decision, error) {
	t, ok := ret.(*lua.LTable)
	if !ok {
		return turn.Decision{}, errBadReturn
	}
	choice, ok := t.RawGetString("choice").(lua.LNumber)
	if !ok {
		return turn.Decision{}, errBadReturn
	}
	i := int(choice)
	if float64(i) != float64(choice) || i < 1 || i > n {
		return turn.Decision{}, fmt.Errorf("decide returned choice %v of %d options", choice, n)
	}
	d := turn.Decision{Choice: i - 1}
	switch t.RawGetString("action") {
	case lua.LString("bank"):
		d.Action = turn.Bank
	case lua.LString("continue"):
		d.Action = turn.Continue
	default:
		return turn.Decision{}, errBadReturn
	}
	return d, nil
}
