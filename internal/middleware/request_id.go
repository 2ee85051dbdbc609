package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey is a custom type to avoid key collisions in context.
type contextKey string

const (
	// RequestIDKey is the key for storing the request ID in the context.
	RequestIDKey contextKey = "requestID"

	// RequestIDHeader is the header used to propagate the request ID.
	RequestIDHeader = "X-Request-ID"
)

// RequestID is a middleware that injects a request ID into the context of each request.
// If the "X-Request-ID" header is present, it will be used. Otherwise, a new UUID will be generated.
// The request ID is also added to the response headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID stored in ctx, or "" if there is none.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
