package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
)

// PermissionsHandler serves the permission catalog.
type PermissionsHandler struct {
	logger   *slog.Logger
	registry *Registry
	rbac     Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, registry *Registry, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, registry: registry, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(PermRoleManage, PermAdminAccess))
		r.Get("/", h.listPermissions)
	})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": h.registry.List()})
}
