package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/observability"
	"github.com/shestoi/GoFoodTech/services/payment/internal/repository"
	"github.com/shestoi/GoFoodTech/services/payment/internal/service"
)

// Handler содержит HTTP-обработчики Payment Service
type Handler struct {
	paymentService *service.PaymentService
	logger         *zap.Logger
}

// NewHandler создаёт новый HTTP handler
func NewHandler(paymentService *service.PaymentService, logger *zap.Logger) *Handler {
	return &Handler{
		paymentService: paymentService,
		logger:         logger,
	}
}

// ConfirmRequest тело POST /payments/confirm
type ConfirmRequest struct {
	PaymentID    string `json:"payment_id"`
	OrderID      string `json:"order_id"`
	UserID       string `json:"user_id"`
	RestaurantID string `json:"restaurant_id"`
	Amount       int64  `json:"amount"`
}

// PaymentResponse платёж в HTTP ответе
type PaymentResponse struct {
	PaymentID    string    `json:"payment_id"`
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id,omitempty"`
	RestaurantID string    `json:"restaurant_id,omitempty"`
	Amount       int64     `json:"amount"`
	Status       string    `json:"status"`
	EventStatus  string    `json:"event_status"`
	CreatedAt    time.Time `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// PostConfirm обрабатывает POST /payments/confirm.
// 201 новый платёж, 200 платёж уже был, 202 событие ждёт в outbox.
func (h *Handler) PostConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(r)

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, err := h.paymentService.ConfirmPayment(ctx, service.ConfirmInput{
		PaymentID:    req.PaymentID,
		OrderID:      req.OrderID,
		UserID:       req.UserID,
		RestaurantID: req.RestaurantID,
		Amount:       req.Amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrEventNotDurable):
			logger.Error("payment event could not be stored", zap.Error(err), zap.String("order_id", req.OrderID))
			writeError(w, http.StatusServiceUnavailable, "payment event could not be stored, retry later")
		default:
			logger.Error("failed to confirm payment", zap.Error(err), zap.String("order_id", req.OrderID))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	code := http.StatusOK
	switch {
	case result.EventPending:
		code = http.StatusAccepted
	case result.Created:
		code = http.StatusCreated
	}
	writeJSON(w, code, toResponse(result.Payment))
}

// GetPayment обрабатывает GET /payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request, id string) {
	payment, err := h.paymentService.GetPayment(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "payment not found")
		case errors.Is(err, service.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log(r).Error("failed to get payment", zap.Error(err), zap.String("payment_id", id))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, toResponse(payment))
}

func (h *Handler) log(r *http.Request) *zap.Logger {
	if l := observability.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return h.logger
}

func toResponse(p repository.Payment) PaymentResponse {
	return PaymentResponse{
		PaymentID:    p.PaymentID,
		OrderID:      p.OrderID,
		UserID:       p.UserID,
		RestaurantID: p.RestaurantID,
		Amount:       p.Amount,
		Status:       p.Status,
		EventStatus:  p.EventStatus,
		CreatedAt:    p.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
