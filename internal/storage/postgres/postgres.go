// Package postgres stores simulation run history in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/kcddice/internal/config"
)

// ApplicationName tags every run history connection in pg_stat_activity.
const ApplicationName = "kcddice"

// ErrSchemaMissing is returned by CheckSchema when the database answers but
// the run history migrations have not been applied.
var ErrSchemaMissing = errors.New("run history schema missing; apply migrations with cmd/migrate")

// Pool is the connection pool backing the run history store.
type Pool struct {
	db *pgxpool.Pool
}

// NewPool connects to the run history database described by cfg.
//
// Precondition: cfg passes config validation with Enabled set.
// Postcondition: Returns a Pool that answered a ping, or a non-nil error
// naming the host and database it could not reach.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing run history DSN: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.ConnConfig.RuntimeParams["application_name"] = ApplicationName

	db, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating run history pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("reaching %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
	}
	return &Pool{db: db}, nil
}

// CheckSchema verifies within timeout that the simulation_runs table exists.
//
// Precondition: The pool must not be closed.
// Postcondition: Returns nil when runs can be stored, ErrSchemaMissing when
// the table is absent, or the query error when the database did not answer.
func (p *Pool) CheckSchema(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var table *string
	if err := p.db.QueryRow(ctx, `SELECT to_regclass('simulation_runs')::text`).Scan(&table); err != nil {
		return fmt.Errorf("checking run history schema: %w", err)
	}
	if table == nil {
		return ErrSchemaMissing
	}
	return nil
}

// Close releases all pool resources.
func (p *Pool) Close() {
	p.db.Close()
}

// DB returns the underlying pgxpool.Pool for the run repository.
func (p *Pool) DB() *pgxpool.Pool {
	return p.db
}
