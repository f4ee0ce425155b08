package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/repository"
)

// ReportRepository реализует repository.ReportRepository в памяти.
// Используется в тестах и при локальном запуске без PostgreSQL.
type ReportRepository struct {
	mu      sync.RWMutex
	reports map[string]repository.PaymentReport // ключ = payment_id
}

// NewReportRepository создаёт пустой репозиторий
func NewReportRepository() *ReportRepository {
	return &ReportRepository{
		reports: make(map[string]repository.PaymentReport),
	}
}

func (r *ReportRepository) Record(_ context.Context, report repository.PaymentReport) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if report.Amount <= 0 {
		return false, repository.ErrConstraint
	}
	if _, exists := r.reports[report.PaymentID]; exists {
		return false, nil
	}
	if report.RecordedAt.IsZero() {
		report.RecordedAt = time.Now().UTC()
	}
	r.reports[report.PaymentID] = report
	return true, nil
}

func (r *ReportRepository) Summary(_ context.Context) ([]repository.RestaurantSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	grouped := lo.GroupBy(lo.Values(r.reports), func(p repository.PaymentReport) string {
		return p.RestaurantID
	})
	summaries := lo.MapToSlice(grouped, summarize)
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].RestaurantID < summaries[j].RestaurantID
	})
	return summaries, nil
}

func (r *ReportRepository) RestaurantSummary(_ context.Context, restaurantID string) (repository.RestaurantSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reports := lo.Filter(lo.Values(r.reports), func(p repository.PaymentReport, _ int) bool {
		return p.RestaurantID == restaurantID
	})
	if len(reports) == 0 {
		return repository.RestaurantSummary{}, repository.ErrNotFound
	}
	return summarize(restaurantID, reports), nil
}

// Len возвращает число записей (для тестов)
func (r *ReportRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reports)
}

func summarize(restaurantID string, reports []repository.PaymentReport) repository.RestaurantSummary {
	last := lo.MaxBy(reports, func(a, b repository.PaymentReport) bool {
		return a.OccurredAt.After(b.OccurredAt)
	})
	return repository.RestaurantSummary{
		RestaurantID:  restaurantID,
		PaymentsCount: int64(len(reports)),
		TotalAmount: lo.SumBy(reports, func(p repository.PaymentReport) int64 {
			return p.Amount
		}),
		LastPaymentAt: last.OccurredAt,
	}
}
