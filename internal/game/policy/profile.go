// Package policy implements the decision-policy variants ("AI profiles") as
// named configurations of a handful of strategies.
//
// A Profile is data loaded from YAML; Registry turns profiles into
// turn.Policy values.
package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
)

// ErrUnknownProfile is returned when a profile ID is not registered.
var ErrUnknownProfile = errors.New("unknown profile")

// Kind selects the strategy a profile runs.
type Kind string

const (
	// KindThreshold banks once the turn score reaches BankAt.
	KindThreshold Kind = "threshold"
	// KindRisk continues while the risk-adjusted value of one more roll beats banking.
	KindRisk Kind = "risk"
	// KindWin evaluates each legal decision by game rollouts.
	KindWin Kind = "win"
	// KindScript runs a Lua decide function.
	KindScript Kind = "script"
	// KindHeuristic scores each option by points plus a per-die estimate of
	// future value and banks when the turn score beats the best estimate.
	KindHeuristic Kind = "heuristic"
)

// Choice selects which scoring option a profile keeps.
type Choice string

const (
	ChoiceMaxPoints      Choice = "max_points"
	ChoiceFewestDice     Choice = "fewest_dice"
	ChoiceBalanced       Choice = "balanced"
	ChoiceStraightHunter Choice = "straight_hunter"
	ChoiceSetHunter      Choice = "set_hunter"
)

const (
	defaultRolloutBudget = 240
	defaultBase          = "balanced"
)

// Profile is a named decision-policy configuration.
type Profile struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Kind        Kind   `yaml:"kind"`
	Choice      Choice `yaml:"choice"`
	// RerollOnClear rolls all six dice again when every die has scored
	// instead of banking.
	RerollOnClear bool `yaml:"reroll_on_clear"`
	BankAt        int  `yaml:"bank_at"`
	// BankIfDiceBelow banks when fewer dice than this would be left.
	BankIfDiceBelow int `yaml:"bank_if_dice_below"`
	// RiskAversion is lambda in mean - lambda*sd; negative values seek risk.
	RiskAversion float64 `yaml:"risk_aversion"`
	// RolloutBudget is the total number of rollouts per decision.
	RolloutBudget int `yaml:"rollout_budget"`
	// Base names the profile used to finish rollouts and as the fallback of
	// a failing script.
	Base string `yaml:"base"`
	// Opponent names the profile assumed for the other side in rollouts.
	Opponent string `yaml:"opponent"`
	// Script is a Lua file path, relative to the profile file.
	Script string `yaml:"script"`
	// Source is inline Lua, used when Script is empty.
	Source           string `yaml:"source"`
	InstructionLimit int    `yaml:"instruction_limit"`
	// TurnRules, when set, replaces the turn rules of the side playing this
	// profile.
	TurnRules *ruleset.TurnRules `yaml:"turn_rules"`
}

func (p *Profile) withDefaults() {
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Choice == "" {
		p.Choice = ChoiceMaxPoints
	}
	if p.Kind == KindWin && p.RolloutBudget == 0 {
		p.RolloutBudget = defaultRolloutBudget
	}
	if (p.Kind == KindWin || p.Kind == KindScript) && p.Base == "" && p.ID != defaultBase {
		p.Base = defaultBase
	}
}

// Validate checks the profile and returns all violations at once.
func (p *Profile) Validate() error {
	var errs []string
	if p.ID == "" {
		errs = append(errs, "id must not be empty")
	}
	switch p.Kind {
	case KindThreshold, KindRisk, KindHeuristic:
	case KindWin:
		if p.RolloutBudget <= 0 {
			errs = append(errs, fmt.Sprintf("rollout_budget must be positive, got %d", p.RolloutBudget))
		}
	case KindScript:
		if p.Script == "" && p.Source == "" {
			errs = append(errs, "script profile needs script or source")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown kind %q", p.Kind))
	}
	switch p.Choice {
	case ChoiceMaxPoints, ChoiceFewestDice, ChoiceBalanced, ChoiceStraightHunter, ChoiceSetHunter:
	default:
		errs = append(errs, fmt.Sprintf("unknown choice %q", p.Choice))
	}
	if p.BankAt < 0 {
		errs = append(errs, fmt.Sprintf("bank_at must be >= 0, got %d", p.BankAt))
	}
	if p.BankIfDiceBelow < 0 || p.BankIfDiceBelow > 6 {
		errs = append(errs, fmt.Sprintf("bank_if_dice_below must be in [0, 6], got %d", p.BankIfDiceBelow))
	}
	if p.Base == p.ID && p.ID != "" {
		errs = append(errs, "base must not name the profile itself")
	}
	if p.TurnRules != nil {
		if err := p.TurnRules.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("policy.Profile %q: %s", p.ID, strings.Join(errs, "; "))
	}
	return nil
}

// yamlProfileFile wraps the YAML top-level key.
type yamlProfileFile struct {
	Profile *Profile `yaml:"profile"`
}

// LoadProfiles reads all *.yaml files from dir and returns parsed profiles.
// A relative Script path is resolved against dir.
//
// Precondition: dir must be a readable directory.
// Postcondition: returns an error if any file fails to parse or validate.
func LoadProfiles(dir string) ([]*Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("policy.LoadProfiles: reading %q: %w", dir, err)
	}
	var out []*Profile
	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("policy.LoadProfiles: reading %s: %w", e.Name(), err)
		}
		var f yamlProfileFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("policy.LoadProfiles: parsing %s: %w", e.Name(), err)
		}
		if f.Profile == nil {
			return nil, fmt.Errorf("policy.LoadProfiles: %s missing top-level 'profile' key", e.Name())
		}
		p := f.Profile
		p.withDefaults()
		if p.Script != "" && !filepath.IsAbs(p.Script) {
			p.Script = filepath.Join(dir, p.Script)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy.LoadProfiles: %s: %w", e.Name(), err)
		}
		out = append(out, p)
	}
	return out, nil
}

// DefaultProfiles returns the built-in profiles.
func DefaultProfiles() []*Profile {
	priestRules := ruleset.DefaultTurnRules()
	priestRules.MinBank = ruleset.MinBank{Value: 500, FirstNRolls: 2}
	priestRules.ResetRollsOnClear = true

	ps := []*Profile{
		{ID: "cautious", Name: "Cautious", Kind: KindThreshold, Choice: ChoiceMaxPoints,
			BankAt: 350, BankIfDiceBelow: 3,
			Description: "Keeps every scoring die and banks early."},
		{ID: "balanced", Name: "Balanced", Kind: KindThreshold, Choice: ChoiceBalanced,
			BankAt: 600, BankIfDiceBelow: 2, RerollOnClear: true,
			Description: "Weighs points against dice left and banks at a moderate score."},
		{ID: "risky", Name: "Risky", Kind: KindThreshold, Choice: ChoiceFewestDice,
			BankAt: 1500, RerollOnClear: true,
			Description: "Keeps as few dice as possible and pushes for big turns."},
		{ID: "priest", Name: "Priest", Kind: KindHeuristic, RerollOnClear: true, TurnRules: &priestRules,
			Description: "Must reach 500 before banking in the first two rolls; rerolls on a clear and restarts the roll count."},
		{ID: "expectimax", Name: "Expectimax", Kind: KindRisk, RiskAversion: 0, RerollOnClear: true,
			Description: "Continues whenever one more roll has a higher expected turn score."},
		{ID: "gambler", Name: "Gambler", Kind: KindRisk, RiskAversion: -0.35, RerollOnClear: true,
			Description: "Rewards variance and keeps rolling."},
		{ID: "strategist", Name: "Strategist", Kind: KindWin, RolloutBudget: defaultRolloutBudget, RerollOnClear: true,
			Description: "Picks the decision with the highest simulated chance of winning the game."},
	}
	for _, p := range ps {
		p.withDefaults()
	}
	return ps
}
