//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/repository"
)

func TestRepository_Integration(t *testing.T) {
	ctx := context.Background()

	// Поднимаем PostgreSQL контейнер через testcontainers
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("reports"),
		postgres.WithUsername("sysadmin_user"),
		postgres.WithPassword("sysadmin_password"),
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, postgresContainer.Terminate(ctx))
	}()

	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	// Ждём готовности БД через ping с retry
	var pingErr error
	for i := 0; i < 10; i++ {
		pingErr = pool.Ping(ctx)
		if pingErr == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	require.NoError(t, pingErr, "Failed to ping database after retries")

	require.NoError(t, Migrate(ctx, dsn))
	// Повторный запуск миграций ничего не делает
	require.NoError(t, Migrate(ctx, dsn))

	repo := NewRepository(pool)
	paidAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Record_IsIdempotent", func(t *testing.T) {
		report := repository.PaymentReport{
			PaymentID:    "p1",
			OrderID:      "o1",
			UserID:       "u1",
			RestaurantID: "r1",
			Amount:       1500,
			OccurredAt:   paidAt,
		}

		inserted, err := repo.Record(ctx, report)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = repo.Record(ctx, report)
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("Record_ConstraintViolation", func(t *testing.T) {
		_, err := repo.Record(ctx, repository.PaymentReport{
			PaymentID:  "p-bad",
			OrderID:    "o-bad",
			Amount:     0,
			OccurredAt: paidAt,
		})
		assert.ErrorIs(t, err, repository.ErrConstraint)
	})

	t.Run("Summary", func(t *testing.T) {
		_, err := repo.Record(ctx, repository.PaymentReport{
			PaymentID: "p2", OrderID: "o2", RestaurantID: "r1", Amount: 500, OccurredAt: paidAt.Add(time.Hour),
		})
		require.NoError(t, err)
		_, err = repo.Record(ctx, repository.PaymentReport{
			PaymentID: "p3", OrderID: "o3", RestaurantID: "r2", Amount: 700, OccurredAt: paidAt,
		})
		require.NoError(t, err)

		summaries, err := repo.Summary(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.Equal(t, "r1", summaries[0].RestaurantID)
		assert.Equal(t, int64(2), summaries[0].PaymentsCount)
		assert.Equal(t, int64(2000), summaries[0].TotalAmount)
		assert.True(t, paidAt.Add(time.Hour).Equal(summaries[0].LastPaymentAt))

		r2, err := repo.RestaurantSummary(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, int64(700), r2.TotalAmount)

		_, err = repo.RestaurantSummary(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}
