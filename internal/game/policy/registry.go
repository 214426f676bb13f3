package policy

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/kcddice/internal/game/montecarlo"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/game/turn"
	"github.com/cory-johannsen/kcddice/internal/scripting"
)

// Registry indexes profiles by ID and builds their policies.
//
// Invariant: each profile ID is registered at most once. Built policies are
// cached and safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	engine   *scoring.Engine
	scripts  *scripting.Manager
	logger   *zap.Logger
	profiles map[string]*Profile
	order    []string
	built    map[string]turn.Policy
}

// NewRegistry returns an empty Registry whose policies score with engine.
//
// Precondition: engine must not be nil; scripts and logger may be nil.
func NewRegistry(engine *scoring.Engine, scripts *scripting.Manager, logger *zap.Logger) *Registry {
	if engine == nil {
		panic("policy.NewRegistry: engine must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if scripts == nil {
		scripts = scripting.NewManager(logger)
	}
	return &Registry{
		engine:   engine,
		scripts:  scripts,
		logger:   logger,
		profiles: make(map[string]*Profile),
		built:    make(map[string]turn.Policy),
	}
}

// NewDefaultRegistry returns a Registry holding DefaultProfiles.
func NewDefaultRegistry(engine *scoring.Engine, scripts *scripting.Manager, logger *zap.Logger) *Registry {
	r := NewRegistry(engine, scripts, logger)
	if err := r.RegisterAll(DefaultProfiles()); err != nil {
		panic("policy: default profiles rejected: " + err.Error())
	}
	return r
}

// Register validates p, compiles its script if it has one, and stores it.
//
// Postcondition: returns an error on validation failure, script failure, or
// ID collision.
func (r *Registry) Register(p *Profile) error {
	p.withDefaults()
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[p.ID]; exists {
		return fmt.Errorf("policy.Registry: profile %q already registered", p.ID)
	}
	if p.Kind == KindScript {
		var err error
		if p.Script != "" {
			err = r.scripts.LoadFile(p.ID, p.Script, p.InstructionLimit)
		} else {
			err = r.scripts.Load(p.ID, p.Source, p.InstructionLimit)
		}
		if err != nil {
			return fmt.Errorf("policy.Registry: profile %q: %w", p.ID, err)
		}
	}
	r.profiles[p.ID] = p
	r.order = append(r.order, p.ID)
	return nil
}

// RegisterAll registers ps in order, stopping at the first error.
func (r *Registry) RegisterAll(ps []*Profile) error {
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Profile returns the profile registered under id.
func (r *Registry) Profile(id string) (*Profile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	return p, ok
}

// Profiles returns every registered profile in registration order.
func (r *Registry) Profiles() []*Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Profile, len(r.order))
	for i, id := range r.order {
		out[i] = r.profiles[id]
	}
	return out
}

// Policy returns the policy of profile id.
//
// Postcondition: returns an error wrapping ErrUnknownProfile when id, or a
// profile it names as base or opponent, is not registered.
func (r *Registry) Policy(id string) (turn.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.build(id, map[string]bool{})
}

func (r *Registry) build(id string, visiting map[string]bool) (turn.Policy, error) {
	if pol, ok := r.built[id]; ok {
		return pol, nil
	}
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("policy: %w: %q", ErrUnknownProfile, id)
	}
	if visiting[id] {
		return nil, fmt.Errorf("policy: profile %q refers to itself through its base", id)
	}
	visiting[id] = true
	defer delete(visiting, id)

	b := profiled{p: p}
	var pol turn.Policy
	switch p.Kind {
	case KindThreshold:
		pol = &thresholdPolicy{profiled: b, chooser: newChooser(p.Choice, r.engine)}
	case KindHeuristic:
		pol = &heuristicPolicy{profiled: b}
	case KindRisk:
		pol = &riskPolicy{profiled: b, engine: r.engine}
	case KindWin:
		base, err := r.build(p.Base, visiting)
		if err != nil {
			return nil, err
		}
		opponent := base
		if p.Opponent != "" && p.Opponent != p.ID {
			if opponent, err = r.build(p.Opponent, visiting); err != nil {
				return nil, err
			}
		}
		pol = &winPolicy{
			profiled: b,
			engine:   r.engine,
			base:     base,
			opponent: opponent,
			est:      &montecarlo.Estimator{Engine: r.engine},
			logger:   r.logger,
		}
	case KindScript:
		base, err := r.build(p.Base, visiting)
		if err != nil {
			return nil, err
		}
		pol = &scriptPolicy{profiled: b, scripts: r.scripts, base: base, logger: r.logger}
	default:
		return nil, fmt.Errorf("policy: profile %q has unknown kind %q", id, p.Kind)
	}
	r.built[id] = pol
	return pol, nil
}
