package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/observability"
	"github.com/shestoi/GoFoodTech/services/order/internal/repository"
	"github.com/shestoi/GoFoodTech/services/order/internal/service"
)

// Handler содержит HTTP-обработчики для Order Service
type Handler struct {
	orderService *service.OrderService
	logger       *zap.Logger
}

// NewHandler создаёт новый HTTP handler
func NewHandler(orderService *service.OrderService, logger *zap.Logger) *Handler {
	return &Handler{
		orderService: orderService,
		logger:       logger,
	}
}

// OrderItem позиция заказа в HTTP запросе/ответе
type OrderItem struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int32  `json:"quantity"`
	Price      int64  `json:"price"`
}

// OrderRequest представляет HTTP запрос на создание заказа
type OrderRequest struct {
	OrderID      string      `json:"order_id,omitempty"`
	UserID       string      `json:"user_id"`
	RestaurantID string      `json:"restaurant_id"`
	Items        []OrderItem `json:"items"`
}

// OrderResponse представляет HTTP ответ с информацией о заказе
type OrderResponse struct {
	OrderID      string      `json:"order_id"`
	UserID       string      `json:"user_id"`
	RestaurantID string      `json:"restaurant_id"`
	Items        []OrderItem `json:"items"`
	Amount       int64       `json:"amount"`
	Status       string      `json:"status"`
	PaymentID    string      `json:"payment_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// PostOrders обрабатывает POST /orders - создание нового заказа
func (h *Handler) PostOrders(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	items := make([]repository.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, repository.OrderItem{
			MenuItemID: item.MenuItemID,
			Quantity:   item.Quantity,
			Price:      item.Price,
		})
	}

	order, err := h.orderService.CreateOrder(r.Context(), service.CreateOrderInput{
		OrderID:      req.OrderID,
		UserID:       req.UserID,
		RestaurantID: req.RestaurantID,
		Items:        items,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(order))
}

// GetOrder обрабатывает GET /orders/{id} - получение заказа по ID
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request, id string) {
	order, err := h.orderService.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

// CancelOrder обрабатывает POST /orders/{id}/cancel
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request, id string) {
	order, err := h.orderService.CancelOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger := observability.LoggerFromContext(r.Context())
		if logger == nil {
			logger = h.logger
		}
		logger.Error("order request failed", zap.Error(err), zap.String("path", r.URL.Path))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func toResponse(o repository.Order) OrderResponse {
	items := make([]OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItem{MenuItemID: it.MenuItemID, Quantity: it.Quantity, Price: it.Price})
	}
	return OrderResponse{
		OrderID:      o.OrderID,
		UserID:       o.UserID,
		RestaurantID: o.RestaurantID,
		Items:        items,
		Amount:       o.Amount,
		Status:       o.Status,
		PaymentID:    o.PaymentID,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
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
