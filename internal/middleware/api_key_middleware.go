package middleware

import (
	"context"
	"net/http"
	"strings"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// CallerKey is the context key for the request's caller identity
	CallerKey ContextKey = "caller"
)

// Caller is everything a metered endpoint needs to know about who is asking.
// Nothing here is verified yet; the authorizer does that.
type Caller struct {
	APIKey  string
	Session string
	IP      string
	Origin  string
}

// apiKeyFrom reads the key from the apikey query parameter, the X-API-Key header
// or a Bearer token, in that order.
func apiKeyFrom(r *http.Request) string {
	if key := r.URL.Query().Get("apikey"); key != "" {
		return key
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func sessionFrom(r *http.Request) string {
	if s := r.Header.Get("X-Session"); s != "" {
		return s
	}
	return r.URL.Query().Get("session")
}

// CallerMiddleware collects the caller identity and stores it in the request context.
func CallerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := &Caller{
			APIKey:  strings.TrimSpace(apiKeyFrom(r)),
			Session: sessionFrom(r),
			IP:      ClientIP(r),
			Origin:  strings.TrimSpace(r.Header.Get("Origin")),
		}
		ctx := context.WithValue(r.Context(), CallerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCaller retrieves the caller from the request context. Requests that did not
// pass through CallerMiddleware get a caller built on the spot.
func GetCaller(r *http.Request) *Caller {
	if caller, ok := r.Context().Value(CallerKey).(*Caller); ok {
		return caller
	}
	return &Caller{
		APIKey:  strings.TrimSpace(apiKeyFrom(r)),
		Session: sessionFrom(r),
		IP:      ClientIP(r),
		Origin:  strings.TrimSpace(r.Header.Get("Origin")),
	}
}
