package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/events"
	"github.com/shestoi/GoFoodTech/services/order/internal/repository"
	"github.com/shestoi/GoFoodTech/services/order/internal/repository/memory"
	"github.com/shestoi/GoFoodTech/services/order/internal/service"
)

func newTestRouter(t *testing.T) (http.Handler, *service.OrderService) {
	t.Helper()
	svc := service.NewOrderService(zap.NewNop(), memory.NewMemoryRepository())
	return NewRouter(NewHandler(svc, zap.NewNop()), zap.NewNop()), svc
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func TestOrdersAPI_CreateGetCancel(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/orders",
		`{"order_id":"o1","user_id":"u1","restaurant_id":"r1","items":[{"menu_item_id":"m1","quantity":3,"price":500}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created OrderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "o1", created.OrderID)
	assert.Equal(t, int64(1500), created.Amount)
	assert.Equal(t, repository.StatusPending, created.Status)

	rec = do(t, router, http.MethodGet, "/orders/o1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/orders/o1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled OrderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cancelled))
	assert.Equal(t, repository.StatusCancelled, cancelled.Status)
}

func TestOrdersAPI_Errors(t *testing.T) {
	router, svc := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/orders", `{"user_id":"u1","restaurant_id":"r1","items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/orders", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/orders/o404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Оплаченный заказ нельзя отменить
	_, err := svc.CreateOrder(context.Background(), service.CreateOrderInput{
		OrderID:      "o1",
		UserID:       "u1",
		RestaurantID: "r1",
		Items:        []repository.OrderItem{{MenuItemID: "m1", Quantity: 1, Price: 1500}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.HandlePaymentSucceeded(context.Background(), events.NewPaymentSucceeded(
		events.ConfirmedPayment{PaymentID: "p1", OrderID: "o1", Amount: 1500}, nowUTC())))

	rec = do(t, router, http.MethodPost, "/orders/o1/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func nowUTC() time.Time { return time.Now().UTC() }
