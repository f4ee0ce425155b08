package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Check одна проверка зависимости.
// Required-проверки влияют на код ответа (503), остальные только попадают в тело:
// например, недоступный брокер не мешает сервису отдавать read-трафик.
type Check struct {
	Name     string
	Required bool
	Probe    func(ctx context.Context) error
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// probeTimeout ограничивает одну проверку
const probeTimeout = 2 * time.Second

// Handler возвращает HTTP handler для /health.
// 200 {"status":"ok"} - всё в порядке, 200 {"status":"degraded"} - упала необязательная проверка,
// 503 {"status":"not ready"} - упала обязательная.
func Handler(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Status: "ok"}
		code := http.StatusOK

		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			err := c.Probe(ctx)
			cancel()

			if err == nil {
				resp.Checks[c.Name] = "ok"
				continue
			}
			resp.Checks[c.Name] = err.Error()
			if c.Required {
				resp.Status = "not ready"
				code = http.StatusServiceUnavailable
			} else if code == http.StatusOK {
				resp.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
