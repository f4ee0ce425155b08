package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/events"
	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/repository"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/repository/memory"
	repoMocks "github.com/shestoi/GoFoodTech/services/sysadmin/internal/repository/mocks"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo repository.ReportRepository) *ReportingService {
	svc := NewReportingService(zap.NewNop(), repo)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func paymentEvent(paymentID, restaurantID string, amount int64, at time.Time) events.PaymentSucceeded {
	return events.NewPaymentSucceeded(events.ConfirmedPayment{
		PaymentID:    paymentID,
		OrderID:      "order-" + paymentID,
		UserID:       "u1",
		RestaurantID: restaurantID,
		Amount:       amount,
	}, at)
}

func TestReportingService_RecordPayment(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewReportRepository()
	svc := newTestService(repo)

	require.NoError(t, svc.RecordPayment(ctx, paymentEvent("p1", "r1", 1500, fixedNow)))
	// Повторная доставка не меняет отчёт
	require.NoError(t, svc.RecordPayment(ctx, paymentEvent("p1", "r1", 1500, fixedNow)))
	require.NoError(t, svc.RecordPayment(ctx, paymentEvent("p2", "r1", 500, fixedNow.Add(time.Hour))))
	require.NoError(t, svc.RecordPayment(ctx, paymentEvent("p3", "r2", 700, fixedNow)))

	assert.Equal(t, 3, repo.Len())

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.PaymentsCount)
	assert.Equal(t, int64(2700), summary.TotalAmount)
	require.Len(t, summary.Restaurants, 2)
	assert.Equal(t, repository.RestaurantSummary{
		RestaurantID:  "r1",
		PaymentsCount: 2,
		TotalAmount:   2000,
		LastPaymentAt: fixedNow.Add(time.Hour),
	}, summary.Restaurants[0])
	assert.Equal(t, "r2", summary.Restaurants[1].RestaurantID)
}

func TestReportingService_RecordPayment_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		event         events.PaymentSucceeded
		setupMock     func(m *repoMocks.ReportRepository)
		expectedError error
		permanent     bool
	}{
		{
			name:          "non-positive amount is permanent",
			event:         paymentEvent("p1", "r1", 0, fixedNow),
			setupMock:     func(m *repoMocks.ReportRepository) {},
			expectedError: ErrInvalidPayment,
			permanent:     true,
		},
		{
			name:  "constraint violation is permanent",
			event: paymentEvent("p1", "r1", 100, fixedNow),
			setupMock: func(m *repoMocks.ReportRepository) {
				m.On("Record", mock.Anything, mock.Anything).Return(false, repository.ErrConstraint).Once()
			},
			expectedError: ErrInvalidPayment,
			permanent:     true,
		},
		{
			name:  "storage error is transient",
			event: paymentEvent("p1", "r1", 100, fixedNow),
			setupMock: func(m *repoMocks.ReportRepository) {
				m.On("Record", mock.Anything, mock.MatchedBy(func(r repository.PaymentReport) bool {
					return r.PaymentID == "p1" && r.RecordedAt.Equal(fixedNow)
				})).Return(false, errors.New("connection refused")).Once()
			},
			permanent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repoMocks.NewReportRepository(t)
			tt.setupMock(repo)
			svc := newTestService(repo)

			err := svc.RecordPayment(ctx, tt.event)

			require.Error(t, err)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			}
			assert.Equal(t, tt.permanent, platformkafka.IsPermanent(err))
		})
	}
}

func TestReportingService_RestaurantSummary(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(memory.NewReportRepository())

	_, err := svc.RestaurantSummary(ctx, "r1")
	assert.ErrorIs(t, err, ErrRestaurantNotFound)

	require.NoError(t, svc.RecordPayment(ctx, paymentEvent("p1", "r1", 1500, fixedNow)))

	summary, err := svc.RestaurantSummary(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.PaymentsCount)
	assert.Equal(t, int64(1500), summary.TotalAmount)
}

func TestReportingService_Summary_RepositoryError(t *testing.T) {
	repo := repoMocks.NewReportRepository(t)
	repo.On("Summary", mock.Anything).Return(nil, errors.New("db down")).Once()

	_, err := newTestService(repo).Summary(context.Background())

	assert.Error(t, err)
}
