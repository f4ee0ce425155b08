package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/GoFoodTech/platform/health/http"
	platformobservability "github.com/shestoi/GoFoodTech/platform/observability"
)

// NewRouter создаёт HTTP роутер отчётов
func NewRouter(handler *Handler, logger *zap.Logger, checks ...platformhealth.Check) chi.Router {
	router := chi.NewRouter()

	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("sysadmin", logger))
	}

	router.Route("/reports", func(r chi.Router) {
		r.Get("/summary", handler.GetSummary)
		r.Get("/restaurants/{id}", func(w http.ResponseWriter, r *http.Request) {
			handler.GetRestaurant(w, r, chi.URLParam(r, "id"))
		})
	})

	router.Get("/health", platformhealth.Handler(checks...))

	return router
}
