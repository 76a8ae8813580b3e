package auth

import (
	"context"
	"net/http"
)

// contextKey is an unexported type for context keys in this package, so no
// other package can read or shadow the values.
type contextKey string

const resolutionKey contextKey = "resolution"

// Resolve is a middleware that runs the CredentialResolver once per request
// and stores the Resolution in the context. It never rejects a request;
// RequireAuth does that.
func Resolve(resolver *CredentialResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := resolver.Resolve(r)
			next.ServeHTTP(w, r.WithContext(WithResolution(r.Context(), res)))
		})
	}
}

// RequireAuth rejects requests without a resolved user credential with 401.
// It must run after Resolve.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ResolutionFromContext(r.Context()).Authenticated() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithResolution returns a copy of ctx carrying res.
func WithResolution(ctx context.Context, res Resolution) context.Context {
	return context.WithValue(ctx, resolutionKey, res)
}

// ResolutionFromContext returns the request's Resolution, or an
// unauthenticated one if Resolve did not run.
func ResolutionFromContext(ctx context.Context) Resolution {
	res, ok := ctx.Value(resolutionKey).(Resolution)
	if !ok {
		return Resolution{Source: SourceNone}
	}
	return res
}

// UserIDFromContext returns the resolved user id.
//
// Returns ("", false) for anonymous requests. A user id is reported even when
// the session holds no credential.
func UserIDFromContext(ctx context.Context) (string, bool) {
	res := ResolutionFromContext(ctx)
	return res.UserID, res.UserID != ""
}
