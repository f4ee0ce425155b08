package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/GoFoodTech/platform/health/http"
	platformobservability "github.com/shestoi/GoFoodTech/platform/observability"
)

// NewRouter создаёт HTTP роутер Payment Service.
// checks попадают в /health: MongoDB обязательна, брокер только отражается в ответе.
func NewRouter(handler *Handler, logger *zap.Logger, checks ...platformhealth.Check) chi.Router {
	router := chi.NewRouter()

	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("payment", logger))
	}

	router.Route("/payments", func(r chi.Router) {
		r.Post("/confirm", handler.PostConfirm)
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			handler.GetPayment(w, r, chi.URLParam(r, "id"))
		})
	})

	router.Get("/health", platformhealth.Handler(checks...))

	return router
}
