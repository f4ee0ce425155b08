package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h http.Handler) (int, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, body
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     []Check
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all healthy",
			checks: []Check{
				{Name: "mongo", Required: true, Probe: ok},
				{Name: "kafka", Probe: ok},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "optional dependency down",
			checks: []Check{
				{Name: "mongo", Required: true, Probe: ok},
				{Name: "kafka", Probe: failing("disconnected")},
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name: "required dependency down",
			checks: []Check{
				{Name: "mongo", Required: true, Probe: failing("ping timeout")},
				{Name: "kafka", Probe: failing("disconnected")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := serve(t, Handler(tt.checks...))
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, body.Status)
			for _, c := range tt.checks {
				assert.Contains(t, body.Checks, c.Name)
			}
		})
	}
}
