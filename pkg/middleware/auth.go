package middleware

import (
	"context"
	"net/http"

	"github.com/Yoseph-M/Soultalk-sub000/pkg/httputil"
)

type contextKeyType string

const (
	userIDKey contextKeyType = "user_id"
	roleKey   contextKeyType = "role"
)

// Principal is the signed-in account a request acts for.
type Principal struct {
	UserID string
	Role   string
}

// PrincipalResolver returns the current principal and whether one exists.
type PrincipalResolver func(ctx context.Context) (Principal, bool)

// RequireSession rejects requests with 401 unless resolve reports a
// principal, and stores the principal's user ID and role in the context.
func RequireSession(resolve PrincipalResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := resolve(r.Context())
			if !ok || p.UserID == "" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: "not signed in"},
				})
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, p.UserID)
			ctx = context.WithValue(ctx, roleKey, p.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects with 403 principals whose role is not listed. Mount it
// after RequireSession.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := roleSet[RoleFromContext(r.Context())]; !ok {
				httputil.WriteJSON(w, http.StatusForbidden, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "FORBIDDEN", Message: "insufficient permissions"},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext extracts the user ID stored by RequireSession.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// RoleFromContext extracts the role stored by RequireSession.
func RoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return ""
}
