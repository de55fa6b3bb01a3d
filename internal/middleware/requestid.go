// Package middleware provides HTTP middleware for Sentinel.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/arbiterhq/sentinel/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID stamps every request with an ID: the caller's X-Request-ID
// when present, otherwise a fresh UUID. Events use the same format for
// correlation IDs, so a request can be traced from the API into the
// bus. The ID lands in the context and on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
