package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/logger"
)

func setupPostgres(t *testing.T) *Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	tc.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	repo, err := NewRepository(ctx, dsn, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	// Running migrations twice is a no-op.
	require.NoError(t, Migrate(dsn, logger.Discard()))
	return repo
}

func TestRepository_Postgres(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		rec, err := repo.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("upsert and get", func(t *testing.T) {
		last := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
		rec := &domain.LinkRecord{Code: "go123", TargetURL: "https://example.com", VisitCount: 3, LastVisitUTC: &last}
		require.NoError(t, repo.Upsert(ctx, rec))
		assert.Equal(t, int64(1), rec.Version)

		got, err := repo.Get(ctx, "go123")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(3), got.VisitCount)
		require.NotNil(t, got.LastVisitUTC)
		assert.True(t, last.Equal(*got.LastVisitUTC))

		require.NoError(t, repo.Upsert(ctx, got))
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("conditional", func(t *testing.T) {
		rec := &domain.LinkRecord{Code: "cond1", TargetURL: "https://a.example"}
		require.NoError(t, repo.UpsertIfVersion(ctx, rec, 0))
		assert.ErrorIs(t, repo.UpsertIfVersion(ctx, &domain.LinkRecord{Code: "cond1"}, 0), domain.ErrConflict)

		rec.VisitCount = 7
		require.NoError(t, repo.UpsertIfVersion(ctx, rec, 1))
		assert.ErrorIs(t, repo.UpsertIfVersion(ctx, rec, 1), domain.ErrConflict)

		got, err := repo.Get(ctx, "cond1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.VisitCount)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("list and delete", func(t *testing.T) {
		recs, err := repo.List(ctx, 10, 0)
		require.NoError(t, err)
		assert.Len(t, recs, 2)

		require.NoError(t, repo.Delete(ctx, "cond1"))
		assert.ErrorIs(t, repo.Delete(ctx, "cond1"), domain.ErrNotFound)
	})
}
