// Package scoring evaluates rolled dice against a configurable rule table.
package scoring

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRuleTable is returned when a rule table fails validation.
var ErrInvalidRuleTable = errors.New("invalid rule table")

// RuleKind selects how a Rule matches dice.
type RuleKind string

const (
	// KindStraight matches one die of each listed face.
	KindStraight RuleKind = "straight"
	// KindSet matches Count or more dice of one face.
	KindSet RuleKind = "set"
	// KindSingle scores every die showing one face.
	KindSingle RuleKind = "single"
)

// Rule is one entry of the scoring rule table.
type Rule struct {
	ID   string   `yaml:"id"`
	Name string   `yaml:"name"`
	Kind RuleKind `yaml:"kind"`
	// Faces lists the distinct faces of a straight, or the single face of a
	// set or single rule.
	Faces  []int `yaml:"faces"`
	Points int   `yaml:"points"`
	// Count is the minimum set size. Defaults to 3.
	Count int `yaml:"count"`
	// ExtraDieMultiplier multiplies a set's points once per die beyond Count.
	// Defaults to 2.
	ExtraDieMultiplier int `yaml:"extra_die_multiplier"`
}

// RuleTable is an ordered list of rules. Earlier rules take precedence: at
// most one straight applies (the first that matches), and dice consumed by a
// rule are not available to later rules.
type RuleTable struct {
	Name  string `yaml:"name"`
	Rules []Rule `yaml:"rules"`
}

// LoadRuleTable reads a rule table from a YAML file.
//
// Precondition: path must be a readable YAML file.
// Postcondition: Returns a validated RuleTable with defaults applied, or an error.
func LoadRuleTable(path string) (RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleTable{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var t RuleTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return RuleTable{}, fmt.Errorf("parsing rule table %s: %w", path, err)
	}
	t = t.withDefaults()
	if err := t.Validate(); err != nil {
		return RuleTable{}, fmt.Errorf("rule table %s: %w", path, err)
	}
	return t, nil
}

func (t RuleTable) withDefaults() RuleTable {
	out := RuleTable{Name: t.Name, Rules: make([]Rule, len(t.Rules))}
	for i, r := range t.Rules {
		if r.Kind == KindSet {
			if r.Count == 0 {
				r.Count = 3
			}
			if r.ExtraDieMultiplier == 0 {
				r.ExtraDieMultiplier = 2
			}
		}
		if r.Name == "" {
			r.Name = r.ID
		}
		out.Rules[i] = r
	}
	return out
}

// Validate checks every rule and returns all violations at once.
//
// Postcondition: Returns nil or an error wrapping ErrInvalidRuleTable.
func (t RuleTable) Validate() error {
	var errs []string
	if len(t.Rules) == 0 {
		errs = append(errs, "table has no rules")
	}
	seen := make(map[string]bool, len(t.Rules))
	for i, r := range t.Rules {
		label := fmt.Sprintf("rule %d (%s)", i, r.ID)
		if r.ID == "" {
			errs = append(errs, fmt.Sprintf("rule %d: id must not be empty", i))
		} else if seen[r.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id", label))
		}
		seen[r.ID] = true
		if r.Points <= 0 {
			errs = append(errs, fmt.Sprintf("%s: points must be positive, got %d", label, r.Points))
		}
		for _, f := range r.Faces {
			if f < 1 || f > 6 {
				errs = append(errs, fmt.Sprintf("%s: face %d must be in [1, 6]", label, f))
			}
		}
		switch r.Kind {
		case KindStraight:
			if len(r.Faces) == 0 {
				errs = append(errs, fmt.Sprintf("%s: straight needs at least one face", label))
			}
			distinct := make(map[int]bool, len(r.Faces))
			for _, f := range r.Faces {
				if distinct[f] {
					errs = append(errs, fmt.Sprintf("%s: straight face %d repeated", label, f))
				}
				distinct[f] = true
			}
		case KindSet:
			if len(r.Faces) != 1 {
				errs = append(errs, fmt.Sprintf("%s: set needs exactly one face", label))
			}
			if r.Count < 1 || r.Count > 6 {
				errs = append(errs, fmt.Sprintf("%s: count must be in [1, 6], got %d", label, r.Count))
			}
			if r.ExtraDieMultiplier < 1 {
				errs = append(errs, fmt.Sprintf("%s: extra_die_multiplier must be >= 1, got %d", label, r.ExtraDieMultiplier))
			}
		case KindSingle:
			if len(r.Faces) != 1 {
				errs = append(errs, fmt.Sprintf("%s: single needs exactly one face", label))
			}
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown kind %q", label, r.Kind))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRuleTable, strings.Join(errs, "; "))
	}
	return nil
}

// DefaultRuleTable returns the standard table: the three straights, three or
// more of a kind doubling per extra die, and single 1s and 5s.
func DefaultRuleTable() RuleTable {
	rules := []Rule{
		{ID: "full_straight", Name: "Full straight", Kind: KindStraight, Faces: []int{1, 2, 3, 4, 5, 6}, Points: 1500},
		{ID: "straight_1_5", Name: "Partial straight (1-5)", Kind: KindStraight, Faces: []int{1, 2, 3, 4, 5}, Points: 500},
		{ID: "straight_2_6", Name: "Partial straight (2-6)", Kind: KindStraight, Faces: []int{2, 3, 4, 5, 6}, Points: 750},
	}
	for face := 6; face >= 1; face-- {
		points := face * 100
		if face == 1 {
			points = 1000
		}
		rules = append(rules, Rule{
			ID:     fmt.Sprintf("set_%d", face),
			Name:   fmt.Sprintf("%ds of a kind", face),
			Kind:   KindSet,
			Faces:  []int{face},
			Points: points,
		})
	}
	rules = append(rules,
		Rule{ID: "single_1", Name: "Single 1", Kind: KindSingle, Faces: []int{1}, Points: 100},
		Rule{ID: "single_5", Name: "Single 5", Kind: KindSingle, Faces: []int{5}, Points: 50},
	)
	return RuleTable{Name: "default", Rules: rules}.withDefaults()
}
