package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/repoguard/internal/apperror"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"validation", apperror.ValidationFailed("f", "bad"), http.StatusBadRequest, "validation_error"},
		{"unauthorized", apperror.Unauthorized("who"), http.StatusUnauthorized, "unauthorized"},
		{"forbidden", apperror.Forbidden("no"), http.StatusForbidden, "forbidden"},
		{"not found", apperror.NotFound("user", "1"), http.StatusNotFound, "not_found"},
		{"conflict", apperror.Conflict("state", "1"), http.StatusConflict, "conflict"},
		{"unavailable", apperror.Unavailable("down", errors.New("dial")), http.StatusServiceUnavailable, "unavailable"},
		{"wrapped", fmt.Errorf("service: %w", apperror.NotFound("user", "1")), http.StatusNotFound, "not_found"},
		{"plain error", errors.New("SELECT * FROM users"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.wantType, body.Error)
			assert.NotContains(t, body.Message, "SELECT")
			assert.NotContains(t, body.Message, "dial")
		})
	}
}

func TestHandleHealth(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	rr := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"db": ok, "kv": ok}, discard()).
		HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"db": ok, "kv": down}, discard()).
		HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"kv":"down"`)
	assert.NotContains(t, rr.Body.String(), "refused")
}
