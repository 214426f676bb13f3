package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/kcddice/internal/calculator"
)

// ErrRunNotFound is returned when a run lookup yields no results.
var ErrRunNotFound = errors.New("run not found")

// ErrRunExists is returned when a run with the same ID was already saved.
var ErrRunExists = errors.New("run already exists")

const insertColumns = `id, kind, subject, profile, seed, requested, completed, cancelled,
	mean, std_dev, bust_rate, win_rate, started_at, elapsed_us, detail`

const runColumns = `id::text, kind, subject, profile, seed, requested, completed, cancelled,
	mean, std_dev, bust_rate, win_rate, started_at, elapsed_us, detail`

// RunRepository persists simulation run summaries.
type RunRepository struct {
	db *pgxpool.Pool
}

// NewRunRepository creates a RunRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRunRepository(db *pgxpool.Pool) *RunRepository {
	return &RunRepository{db: db}
}

// SaveRun inserts run into simulation_runs.
//
// Precondition: run.ID must be set.
// Postcondition: The run is stored, or ErrRunExists if the ID is taken.
func (r *RunRepository) SaveRun(ctx context.Context, run calculator.Run) error {
	detail := run.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encoding run detail: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO simulation_runs (`+insertColumns+`)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb)`,
		run.ID.String(), string(run.Kind), run.Subject, run.Profile, int64(run.Seed),
		run.Requested, run.Completed, run.Cancelled,
		run.Mean, run.StdDev, run.BustRate, run.WinRate,
		run.StartedAt, run.Elapsed.Microseconds(), string(raw),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrRunExists
		}
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// Get retrieves a run by ID.
//
// Postcondition: Returns the Run or ErrRunNotFound.
func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (calculator.Run, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM simulation_runs WHERE id = $1::uuid`,
		id.String(),
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return calculator.Run{}, ErrRunNotFound
		}
		return calculator.Run{}, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// Recent lists the newest runs, most recent first. An empty kind matches
// every kind.
//
// Precondition: limit must be > 0.
// Postcondition: Returns at most limit runs.
func (r *RunRepository) Recent(ctx context.Context, kind calculator.Kind, limit int) ([]calculator.Run, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0, got %d", limit)
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+runColumns+` FROM simulation_runs
		 WHERE $1::text = '' OR kind = $1
		 ORDER BY started_at DESC, id
		 LIMIT $2`,
		string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []calculator.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// DeleteBefore removes runs started before cutoff.
//
// Postcondition: Returns the number of runs removed.
func (r *RunRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM simulation_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRun(row pgx.Row) (calculator.Run, error) {
	var (
		run     calculator.Run
		id      string
		kind    string
		seed    int64
		elapsed int64
		raw     []byte
	)
	err := row.Scan(&id, &kind, &run.Subject, &run.Profile, &seed,
		&run.Requested, &run.Completed, &run.Cancelled,
		&run.Mean, &run.StdDev, &run.BustRate, &run.WinRate,
		&run.StartedAt, &elapsed, &raw)
	if err != nil {
		return calculator.Run{}, err
	}
	run.ID, err = uuid.Parse(id)
	if err != nil {
		return calculator.Run{}, fmt.Errorf("parsing run id %q: %w", id, err)
	}
	run.Kind = calculator.Kind(kind)
	run.Seed = uint64(seed)
	run.Elapsed = time.Duration(elapsed) * time.Microsecond
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &run.Detail); err != nil {
			return calculator.Run{}, fmt.Errorf("decoding run detail: %w", err)
		}
	}
	return run, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
