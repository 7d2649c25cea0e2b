package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "x-request-id"

type requestIDKey struct{}

// WithRequestID adds request id to ctx
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, rid)
}

// RequestID gets request id from context
func RequestID(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}

// RequestIDMiddleware honors an incoming x-request-id or generates one
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), rid)))
	})
}

// LoggerMiddleware stores a request-scoped child of logger in the context
func LoggerMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			lg := logger.With().Str("request_id", RequestID(ctx)).Logger()
			r = r.WithContext(lg.WithContext(ctx))

			start := time.Now()
			lg.Debug().
				Str("method", r.Method).
				Str("request_uri", r.RequestURI).
				Msg("accepted")

			next.ServeHTTP(w, r)

			lg.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("took", time.Since(start)).
				Msg("served")
		})
	}
}
