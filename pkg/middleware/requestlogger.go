package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Yoseph-M/Soultalk-sub000/pkg/logger"
)

// UserResolver returns the ID of the user the request acts for, or "".
type UserResolver func(ctx context.Context) string

// RequestLogger builds a request-scoped logger enriched with correlation_id,
// user_id, trace_id and span_id and stores it with logger.NewContext.
// Mount it after RequestLogging and Tracing. resolve may be nil.
func RequestLogger(base *slog.Logger, resolve UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if resolve != nil {
				if id := resolve(ctx); id != "" {
					ctx = logger.WithUserID(ctx, id)
				}
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
