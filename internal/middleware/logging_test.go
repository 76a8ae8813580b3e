package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func TestLogger(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		wantLevel string
	}{
		{"ok", "/api/me", http.StatusOK, "level=INFO"},
		{"client error", "/api/me", http.StatusUnauthorized, "level=WARN"},
		{"server error", "/api/me", http.StatusInternalServerError, "level=ERROR"},
		{"health check", "/healthz", http.StatusOK, "level=DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			h := chimiddleware.RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("hello"))
			})))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path+"?code=secret-code", nil))

			out := buf.String()
			if !strings.Contains(out, tt.wantLevel) {
				t.Errorf("log = %q, want %s", out, tt.wantLevel)
			}
			if !strings.Contains(out, "bytes=5") {
				t.Errorf("log = %q, want bytes=5", out)
			}
			if strings.Contains(out, "requestID=\"\"") || !strings.Contains(out, "requestID=") {
				t.Errorf("log = %q, want a request id", out)
			}
			if strings.Contains(out, "secret-code") {
				t.Errorf("log leaked the query string: %q", out)
			}
		})
	}
}
