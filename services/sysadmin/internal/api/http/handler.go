package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/observability"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/repository"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/service"
)

// Handler содержит HTTP-обработчики отчётов
type Handler struct {
	reportingService *service.ReportingService
	logger           *zap.Logger
}

// NewHandler создаёт новый HTTP handler
func NewHandler(reportingService *service.ReportingService, logger *zap.Logger) *Handler {
	return &Handler{
		reportingService: reportingService,
		logger:           logger,
	}
}

// RestaurantReport агрегат по ресторану в HTTP ответе
type RestaurantReport struct {
	RestaurantID  string    `json:"restaurant_id"`
	PaymentsCount int64     `json:"payments_count"`
	TotalAmount   int64     `json:"total_amount"`
	LastPaymentAt time.Time `json:"last_payment_at"`
}

// SummaryResponse сводка по всем ресторанам
type SummaryResponse struct {
	PaymentsCount int64              `json:"payments_count"`
	TotalAmount   int64              `json:"total_amount"`
	Restaurants   []RestaurantReport `json:"restaurants"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetSummary обрабатывает GET /reports/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reportingService.Summary(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SummaryResponse{
		PaymentsCount: summary.PaymentsCount,
		TotalAmount:   summary.TotalAmount,
		Restaurants: lo.Map(summary.Restaurants, func(s repository.RestaurantSummary, _ int) RestaurantReport {
			return toReport(s)
		}),
	})
}

// GetRestaurant обрабатывает GET /reports/restaurants/{id}
func (h *Handler) GetRestaurant(w http.ResponseWriter, r *http.Request, id string) {
	summary, err := h.reportingService.RestaurantSummary(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrRestaurantNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "restaurant has no payments"})
			return
		}
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReport(summary))
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())
	if logger == nil {
		logger = h.logger
	}
	logger.Error("report request failed", zap.Error(err), zap.String("path", r.URL.Path))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func toReport(s repository.RestaurantSummary) RestaurantReport {
	return RestaurantReport{
		RestaurantID:  s.RestaurantID,
		PaymentsCount: s.PaymentsCount,
		TotalAmount:   s.TotalAmount,
		LastPaymentAt: s.LastPaymentAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
