package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/GoFoodTech/platform/health/http"
	platformobservability "github.com/shestoi/GoFoodTech/platform/observability"
)

// NewRouter создаёт и настраивает HTTP роутер для Order Service.
// logger используется для observability HTTP middleware (trace_id в логах).
func NewRouter(handler *Handler, logger *zap.Logger, checks ...platformhealth.Check) chi.Router {
	router := chi.NewRouter()

	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("order", logger))
	}

	router.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.PostOrders)
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			handler.GetOrder(w, r, chi.URLParam(r, "id"))
		})
		r.Post("/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			handler.CancelOrder(w, r, chi.URLParam(r, "id"))
		})
	})

	router.Get("/health", platformhealth.Handler(checks...))

	return router
}
