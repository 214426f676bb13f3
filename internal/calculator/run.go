package calculator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind names the operation that produced a run.
type Kind string

const (
	KindTarget   Kind = "target"
	KindCombo    Kind = "combo"
	KindGame     Kind = "game"
	KindPlaybook Kind = "playbook"
	KindLoadout  Kind = "loadout"
)

// Run summarises one service call for the run history.
type Run struct {
	ID   uuid.UUID
	Kind Kind
	// Subject is the pool, loadout, or request the run evaluated.
	Subject   string
	Profile   string
	Seed      uint64
	Requested int
	Completed int
	Cancelled bool
	// Mean is the mean turn score, the player's mean game score, or the top
	// recommendation's expected score, depending on Kind.
	Mean      float64
	StdDev    float64
	BustRate  float64
	WinRate   float64
	StartedAt time.Time
	Elapsed   time.Duration
	// Detail holds kind-specific values; it is stored as JSON.
	Detail map[string]any
}

// RunStore persists run summaries.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
}

func newRun(kind Kind, subject, profile string) Run {
	return Run{ID: uuid.New(), Kind: kind, Subject: subject, Profile: profile, StartedAt: time.Now()}
}

// record stamps run's elapsed time and hands it to the store. A store
// failure is logged; the caller's result stands.
func (s *Service) record(ctx context.Context, run Run) {
	run.Elapsed = time.Since(run.StartedAt)
	s.logger.Debug("run complete",
		zap.Stringer("run_id", run.ID),
		zap.String("kind", string(run.Kind)),
		zap.String("subject", run.Subject),
		zap.Duration("elapsed", run.Elapsed),
	)
	if s.store == nil {
		return
	}
	if err := s.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("saving run failed", zap.Stringer("run_id", run.ID), zap.Error(err))
	}
}
