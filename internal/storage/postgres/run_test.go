package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/kcddice/internal/calculator"
	"github.com/cory-johannsen/kcddice/internal/storage/postgres"
	"github.com/cory-johannsen/kcddice/internal/testutil"
)

func setupRunRepo(t *testing.T) *postgres.RunRepository {
	t.Helper()
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return postgres.NewRunRepository(pc.Pool)
}

func makeRun(kind calculator.Kind, started time.Time) calculator.Run {
	return calculator.Run{
		ID:        uuid.New(),
		Kind:      kind,
		Subject:   "fair,fair,fair,fair,fair,fair",
		Profile:   "balanced",
		Seed:      1<<63 + 7,
		Requested: 1000,
		Completed: 1000,
		Mean:      412.5,
		StdDev:    180.25,
		BustRate:  0.125,
		StartedAt: started.UTC().Truncate(time.Microsecond),
		Elapsed:   1500 * time.Microsecond,
		Detail:    map[string]any{"max_score": float64(1500), "top_scores": []any{"300", "600"}},
	}
}

func TestRunRepository_SaveAndGet(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()

	run := makeRun(calculator.KindCombo, time.Now())
	require.NoError(t, repo.SaveRun(ctx, run))

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, calculator.KindCombo, got.Kind)
	assert.Equal(t, run.Seed, got.Seed, "seed survives the signed column")
	assert.Equal(t, run.Elapsed, got.Elapsed)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.InDelta(t, run.Mean, got.Mean, 1e-9)
	assert.Equal(t, run.Detail, got.Detail)
}

func TestRunRepository_SaveDuplicate(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()

	run := makeRun(calculator.KindGame, time.Now())
	require.NoError(t, repo.SaveRun(ctx, run))
	assert.ErrorIs(t, repo.SaveRun(ctx, run), postgres.ErrRunExists)
}

func TestRunRepository_SaveNilDetail(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()

	run := makeRun(calculator.KindTarget, time.Now())
	run.Detail = nil
	require.NoError(t, repo.SaveRun(ctx, run))

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Detail)
}

func TestRunRepository_GetNotFound(t *testing.T) {
	repo := setupRunRepo(t)
	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, postgres.ErrRunNotFound)
}

func TestRunRepository_Recent(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	combo1 := makeRun(calculator.KindCombo, base)
	game := makeRun(calculator.KindGame, base.Add(time.Minute))
	combo2 := makeRun(calculator.KindCombo, base.Add(2*time.Minute))
	for _, r := range []calculator.Run{combo1, game, combo2} {
		require.NoError(t, repo.SaveRun(ctx, r))
	}

	all, err := repo.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uuid.UUID{combo2.ID, game.ID, combo1.ID}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})

	combos, err := repo.Recent(ctx, calculator.KindCombo, 10)
	require.NoError(t, err)
	require.Len(t, combos, 2)
	assert.Equal(t, combo2.ID, combos[0].ID)

	limited, err := repo.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = repo.Recent(ctx, "", 0)
	assert.Error(t, err)
}

func TestRunRepository_DeleteBefore(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()
	now := time.Now()

	old := makeRun(calculator.KindLoadout, now.Add(-48*time.Hour))
	fresh := makeRun(calculator.KindLoadout, now)
	require.NoError(t, repo.SaveRun(ctx, old))
	require.NoError(t, repo.SaveRun(ctx, fresh))

	n, err := repo.DeleteBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.Get(ctx, old.ID)
	assert.ErrorIs(t, err, postgres.ErrRunNotFound)
	_, err = repo.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestRunRepository_ImplementsRunStore(t *testing.T) {
	var _ calculator.RunStore = (*postgres.RunRepository)(nil)
}
