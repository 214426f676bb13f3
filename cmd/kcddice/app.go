package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/kcddice/internal/calculator"
	"github.com/cory-johannsen/kcddice/internal/config"
	"github.com/cory-johannsen/kcddice/internal/game/dice"
	"github.com/cory-johannsen/kcddice/internal/game/montecarlo"
	"github.com/cory-johannsen/kcddice/internal/game/policy"
	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
	"github.com/cory-johannsen/kcddice/internal/game/scoring"
	"github.com/cory-johannsen/kcddice/internal/scripting"
	"github.com/cory-johannsen/kcddice/internal/storage/postgres"
)

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	engine    *scoring.Engine
	catalog   *dice.Catalog
	inventory dice.Inventory
	registry  *policy.Registry
	scripts   *scripting.Manager
	variants  []*ruleset.Variant
	svc       *calculator.Service

	// pool and runs are nil unless database.enabled is set.
	pool *postgres.Pool
	runs *postgres.RunRepository
}

// newApp loads content, applies the named rule variant, and assembles the
// calculator service.
//
// Postcondition: Returns a ready app or a non-nil error; the caller must
// Close a returned app.
func newApp(ctx context.Context, cfg config.Config, variant string, logger *zap.Logger) (*app, error) {
	start := time.Now()
	a := &app{cfg: cfg, logger: logger}

	if cfg.Content.Variants != "" {
		vs, err := ruleset.LoadVariants(cfg.Content.Variants)
		if err != nil && variant != "" {
			return nil, fmt.Errorf("loading variants: %w", err)
		}
		a.variants = vs
	}
	if variant != "" {
		v, err := a.variant(variant)
		if err != nil {
			return nil, err
		}
		a.cfg.Turn, a.cfg.Game = v.Turn, v.Game
		logger.Info("rule variant applied", zap.String("variant", v.ID))
	}

	table := scoring.DefaultRuleTable()
	if cfg.Content.Rules != "" {
		t, err := scoring.LoadRuleTable(cfg.Content.Rules)
		if err != nil {
			return nil, fmt.Errorf("loading rule table: %w", err)
		}
		table = t
	}
	engine, err := scoring.NewEngine(table)
	if err != nil {
		return nil, fmt.Errorf("building scoring engine: %w", err)
	}
	a.engine = engine

	a.catalog, err = dice.LoadCatalog(cfg.Content.Catalog)
	if err != nil {
		return nil, fmt.Errorf("loading die catalog: %w", err)
	}
	if cfg.Content.Inventory != "" {
		a.inventory, err = dice.LoadInventory(cfg.Content.Inventory, a.catalog)
		if err != nil {
			return nil, fmt.Errorf("loading inventory: %w", err)
		}
	}

	a.scripts = scripting.NewManager(logger)
	a.registry = policy.NewDefaultRegistry(engine, a.scripts, logger)
	if cfg.Content.Profiles != "" {
		profiles, err := policy.LoadProfiles(cfg.Content.Profiles)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("loading profiles: %w", err)
		}
		if err := a.registry.RegisterAll(profiles); err != nil {
			a.Close()
			return nil, fmt.Errorf("registering profiles: %w", err)
		}
	}

	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = dice.RandomSeed()
	}
	est := &montecarlo.Estimator{
		Engine:           engine,
		Workers:          cfg.Simulation.Workers,
		Seed:             seed,
		ProgressInterval: cfg.Simulation.ProgressInterval,
		ExhaustiveLimit:  cfg.Simulation.ExhaustiveLimit,
		Logger:           logger,
	}

	var store calculator.RunStore
	if cfg.Database.Enabled {
		dbStart := time.Now()
		a.pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := a.pool.CheckSchema(ctx, 5*time.Second); err != nil {
			a.Close()
			return nil, err
		}
		a.runs = postgres.NewRunRepository(a.pool.DB())
		store = a.runs
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
	}

	a.svc, err = calculator.New(calculator.Config{
		Engine:         engine,
		Catalog:        a.catalog,
		Policies:       a.registry,
		Estimator:      est,
		TurnRules:      a.cfg.Turn,
		GameRules:      a.cfg.Game,
		DefaultProfile: cfg.Content.DefaultProfile,
		PlayerProfile:  cfg.Content.PlayerProfile,
		DefaultTrials:  cfg.Simulation.Trials,
		PlaybookTrials: cfg.Simulation.PlaybookTrials,
		Store:          store,
		Logger:         logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Debug("calculator ready",
		zap.Int("dice", a.catalog.Len()),
		zap.Int("inventory", a.inventory.Total()),
		zap.Int("profiles", len(a.registry.Profiles())),
		zap.Uint64("seed", seed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return a, nil
}

func (a *app) variant(id string) (*ruleset.Variant, error) {
	ids := make([]string, 0, len(a.variants))
	for _, v := range a.variants {
		if v.ID == id {
			return v, nil
		}
		ids = append(ids, v.ID)
	}
	sort.Strings(ids)
	return nil, fmt.Errorf("unknown variant %q (available: %s)", id, strings.Join(ids, ", "))
}

// requireInventory returns the loaded inventory or an error naming the
// config key to set.
func (a *app) requireInventory() (dice.Inventory, error) {
	if a.inventory.Total() == 0 {
		return nil, fmt.Errorf("no inventory loaded; set content.inventory")
	}
	return a.inventory, nil
}

// Close releases the scripting VMs and the database pool.
func (a *app) Close() {
	if a.scripts != nil {
		a.scripts.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
