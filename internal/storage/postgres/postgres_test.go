package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/kcddice/internal/config"
	"github.com/cory-johannsen/kcddice/internal/storage/postgres"
	"github.com/cory-johannsen/kcddice/internal/testutil"
)

func TestNewPool_TagsConnections(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, pc.Config)
	require.NoError(t, err)
	defer pool.Close()

	var name string
	require.NoError(t, pool.DB().QueryRow(ctx, `SELECT current_setting('application_name')`).Scan(&name))
	assert.Equal(t, postgres.ApplicationName, name)
}

func TestCheckSchema(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, pc.Config)
	require.NoError(t, err)
	defer pool.Close()

	assert.ErrorIs(t, pool.CheckSchema(ctx, 2*time.Second), postgres.ErrSchemaMissing)

	pc.ApplyMigrations(t)
	assert.NoError(t, pool.CheckSchema(ctx, 2*time.Second))
}

func TestNewPool_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed port")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := postgres.NewPool(ctx, config.DatabaseConfig{
		Host:     "127.0.0.1",
		Port:     1,
		User:     "nobody",
		Name:     "nothing",
		SSLMode:  "disable",
		MaxConns: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1/nothing")
}
