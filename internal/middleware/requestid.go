package middleware

import (
	"context"
	"net/http"

	"bookshelf-api/pkg/uid"
)

type contextKey string

// RequestIDKey holds the request id in a request context.
const RequestIDKey contextKey = "request_id"

const requestIDHeader = "X-Request-ID"

// RequestID gives every catalog request an id that is echoed in the
// response header and attached to its access and panic log lines. A caller
// can pin the id by sending a canonical UUID; anything else is replaced.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !uid.IsValid(id) {
			id = uid.New()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDKey, id)))
	})
}

// GetRequestID returns the id set by RequestID, or "" outside a request.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
