// Package ruleset defines the configurable turn and game rules shared by the
// simulators.
package ruleset

import (
	"fmt"
	"strings"
)

// EndRule decides what happens when a side first reaches the point cap.
type EndRule string

const (
	// EndImmediate ends the game as soon as a side reaches the cap.
	EndImmediate EndRule = "immediate"
	// EndFinalTurn gives the other side one final turn to beat the leader.
	EndFinalTurn EndRule = "final_turn"
)

// TieRule decides a game whose final scores are equal.
type TieRule string

const (
	// TieDraw records the game as a draw.
	TieDraw TieRule = "draw"
	// TieSuddenDeath plays extra rounds until one side outscores the other
	// within a round, up to MaxExtraRounds.
	TieSuddenDeath TieRule = "sudden_death"
)

// ParseEndRule converts a configuration string into an EndRule.
func ParseEndRule(s string) (EndRule, error) {
	switch r := EndRule(strings.ToLower(strings.TrimSpace(s))); r {
	case EndImmediate, EndFinalTurn:
		return r, nil
	}
	return "", fmt.Errorf("unknown end rule %q: must be one of [immediate, final_turn]", s)
}

// ParseTieRule converts a configuration string into a TieRule.
func ParseTieRule(s string) (TieRule, error) {
	switch r := TieRule(strings.ToLower(strings.TrimSpace(s))); r {
	case TieDraw, TieSuddenDeath:
		return r, nil
	}
	return "", fmt.Errorf("unknown tie rule %q: must be one of [draw, sudden_death]", s)
}

// MinBank forbids banking while the turn score is below Value during the
// first FirstNRolls rolls of a turn. FirstNRolls <= 0 applies it to every roll.
// A zero Value disables the rule.
type MinBank struct {
	Value       int `yaml:"value" mapstructure:"value"`
	FirstNRolls int `yaml:"first_n_rolls" mapstructure:"first_n_rolls"`
}

// Forbids reports whether banking turnScore after the given roll (1-based)
// is forbidden.
func (m MinBank) Forbids(turnScore, roll int) bool {
	if m.Value <= 0 || turnScore >= m.Value {
		return false
	}
	return m.FirstNRolls <= 0 || roll <= m.FirstNRolls
}

// TurnRules govern a single turn.
type TurnRules struct {
	MinBank MinBank `yaml:"min_bank" mapstructure:"min_bank"`
	// MaxRolls banks a turn that reaches this many rolls. Zero means no limit.
	MaxRolls int `yaml:"max_rolls" mapstructure:"max_rolls"`
	// ResetRollsOnClear restarts the roll counter when all six dice have
	// scored and are rerolled, so MinBank applies again.
	ResetRollsOnClear bool `yaml:"reset_rolls_on_clear" mapstructure:"reset_rolls_on_clear"`
}

// GameRules govern a full game.
type GameRules struct {
	PointCap int     `yaml:"point_cap" mapstructure:"point_cap"`
	End      EndRule `yaml:"end" mapstructure:"end"`
	Tie      TieRule `yaml:"tie" mapstructure:"tie"`
	// MaxExtraRounds bounds sudden-death play; the game is a draw after that.
	MaxExtraRounds int `yaml:"max_extra_rounds" mapstructure:"max_extra_rounds"`
	// MaxTurns bounds the total number of turns in one game. Zero means no limit.
	MaxTurns int `yaml:"max_turns" mapstructure:"max_turns"`
	// AlternateFirst swaps the opening side on every other simulated game.
	AlternateFirst bool `yaml:"alternate_first" mapstructure:"alternate_first"`
}

// DefaultTurnRules returns the standard turn rules: no minimum bank and a
// 50-roll guard.
func DefaultTurnRules() TurnRules {
	return TurnRules{MaxRolls: 50}
}

// DefaultGameRules returns the standard game: first to 8000, the game ends
// immediately, ties are draws.
func DefaultGameRules() GameRules {
	return GameRules{
		PointCap:       8000,
		End:            EndImmediate,
		Tie:            TieDraw,
		MaxExtraRounds: 10,
		MaxTurns:       1000,
		AlternateFirst: true,
	}
}

// Validate reports every invalid turn rule field.
func (t TurnRules) Validate() error {
	var errs []string
	if t.MinBank.Value < 0 {
		errs = append(errs, fmt.Sprintf("min_bank.value must be >= 0, got %d", t.MinBank.Value))
	}
	if t.MaxRolls < 0 {
		errs = append(errs, fmt.Sprintf("max_rolls must be >= 0, got %d", t.MaxRolls))
	}
	if len(errs) > 0 {
		return fmt.Errorf("turn rules: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate reports every invalid game rule field.
func (g GameRules) Validate() error {
	var errs []string
	if g.PointCap < 0 {
		errs = append(errs, fmt.Sprintf("point_cap must be >= 0, got %d", g.PointCap))
	}
	if _, err := ParseEndRule(string(g.End)); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := ParseTieRule(string(g.Tie)); err != nil {
		errs = append(errs, err.Error())
	}
	if g.MaxExtraRounds < 0 {
		errs = append(errs, fmt.Sprintf("max_extra_rounds must be >= 0, got %d", g.MaxExtraRounds))
	}
	if g.MaxTurns < 0 {
		errs = append(errs, fmt.Sprintf("max_turns must be >= 0, got %d", g.MaxTurns))
	}
	if len(errs) > 0 {
		return fmt.Errorf("game rules: %s", strings.Join(errs, "; "))
	}
	return nil
}
