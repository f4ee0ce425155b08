package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/repository"
)

// Коды ошибок PostgreSQL, которые не исправятся повтором
const (
	pgCheckViolation   = "23514"
	pgNotNullViolation = "23502"
)

// Repository реализует ReportRepository используя PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт новый PostgreSQL репозиторий
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
	}
}

// Record вставляет запись. ON CONFLICT делает повторную доставку события no-op.
func (r *Repository) Record(ctx context.Context, report repository.PaymentReport) (bool, error) {
	recordedAt := report.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO payment_reports (payment_id, order_id, user_id, restaurant_id, amount, occurred_at, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (payment_id) DO NOTHING`,
		report.PaymentID, report.OrderID, report.UserID, report.RestaurantID,
		report.Amount, report.OccurredAt, recordedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == pgCheckViolation || pgErr.Code == pgNotNullViolation) {
			return false, fmt.Errorf("%w: %s", repository.ErrConstraint, pgErr.Message)
		}
		return false, fmt.Errorf("insert payment report: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Summary читает агрегаты из view restaurant_revenue
func (r *Repository) Summary(ctx context.Context) ([]repository.RestaurantSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT restaurant_id, payments_count, total_amount, last_payment_at
		 FROM restaurant_revenue
		 ORDER BY restaurant_id`)
	if err != nil {
		return nil, fmt.Errorf("query restaurant revenue: %w", err)
	}

	summaries, err := pgx.CollectRows(rows, scanSummary)
	if err != nil {
		return nil, fmt.Errorf("scan restaurant revenue: %w", err)
	}
	return summaries, nil
}

// RestaurantSummary читает агрегат по одному ресторану
func (r *Repository) RestaurantSummary(ctx context.Context, restaurantID string) (repository.RestaurantSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT restaurant_id, payments_count, total_amount, last_payment_at
		 FROM restaurant_revenue
		 WHERE restaurant_id = $1`, restaurantID)
	if err != nil {
		return repository.RestaurantSummary{}, fmt.Errorf("query restaurant revenue: %w", err)
	}

	summary, err := pgx.CollectExactlyOneRow(rows, scanSummary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.RestaurantSummary{}, repository.ErrNotFound
		}
		return repository.RestaurantSummary{}, fmt.Errorf("scan restaurant revenue: %w", err)
	}
	return summary, nil
}

// Ping проверяет доступность PostgreSQL (для /health)
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanSummary(row pgx.CollectableRow) (repository.RestaurantSummary, error) {
	var s repository.RestaurantSummary
	err := row.Scan(&s.RestaurantID, &s.PaymentsCount, &s.TotalAmount, &s.LastPaymentAt)
	return s, err
}
