package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. The user id
// must already be resolved into the request context by the identity layer.
type Middleware struct {
	Authorizer *Authorizer
	Logger     *slog.Logger
}

type permissionCheck func(ctx context.Context, userID int64, perms ...PermissionID) (bool, error)

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...PermissionID) func(http.Handler) http.Handler {
	return m.require("rbac require any", normalizePermissions(perms), m.Authorizer.HasAny)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...PermissionID) func(http.Handler) http.Handler {
	return m.require("rbac require all", normalizePermissions(perms), m.Authorizer.HasAll)
}

func (m Middleware) require(label string, perms []PermissionID, check permissionCheck) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.UserIDFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			granted, err := check(r.Context(), userID, perms...)
			if err != nil {
				m.logError(label, err)
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !granted {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}

func normalizePermissions(perms []PermissionID) []PermissionID {
	unique := make(map[PermissionID]struct{}, len(perms))
	normalized := make([]PermissionID, 0, len(perms))
	for _, p := range perms {
		p = PermissionID(strings.TrimSpace(string(p)))
		if p == "" {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
