package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator(), rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermUserView, rbac.PermAdminAccess))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.getUser)
		r.Get("/{id}/roles", h.listUserRoles)
		r.Get("/{id}/permissions", h.listUserPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermUserCreate, rbac.PermAdminAccess))
		r.Post("/", h.createUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermUserEdit, rbac.PermAdminAccess))
		r.Put("/{id}", h.updateUser)
		r.Post("/{id}/toggle", h.toggleUser)
		r.Put("/{id}/roles", h.setUserRoles)
		r.Post("/{id}/roles/{roleID}", h.assignRole)
		r.Delete("/{id}/roles/{roleID}", h.unassignRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermUserDelete, rbac.PermAdminAccess))
		r.Delete("/{id}", h.deleteUser)
	})
}

// Dashboard serves account statistics for administrators.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(w, "dashboard stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	details, err := h.service.List(r.Context(), ListFilter{
		Search:     q.Get("search"),
		ActiveOnly: q.Get("active") == "true",
	})
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	pagination := shared.NewPagination(page, perPage, len(details))
	start, end := pagination.Bounds()
	out := make([]userResponse, 0, end-start)
	for _, d := range details[start:end] {
		out = append(out, toResponse(d))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out, "pagination": pagination})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(detail))
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.bind(w, r, &req) {
		return
	}
	user, err := h.service.Create(r.Context(), CreateUserInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Active:    req.IsActive,
		RoleIDs:   req.RoleIDs,
	})
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	h.respondDetail(w, r, user.ID, http.StatusCreated)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r, "id")
	if !ok {
		return
	}
	var req updateUserRequest
	if !h.bind(w, r, &req) {
		return
	}
	user, err := h.service.Update(r.Context(), id, UpdateUserInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Active:    req.IsActive,
		Password:  req.Password,
		RoleIDs:   req.RoleIDs,
	})
	if err != nil {
		h.fail(w, "update user", err)
		return
	}
	h.respondDetail(w, r, user.ID, http.StatusOK)
}

func (h *Handler) toggleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r, "id")
	if !ok {
		return
	}
	user, err := h.service.ToggleActive(r.Context(), id)
	if err != nil {
		h.fail(w, "toggle user", err)
		return
	}
	h.respondDetail(w, r, user.ID, http.StatusOK)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r, "id")
	if !ok {
		return
	}
	roles, err := h.service.RolesOf(r.Context(), id)
	if err != nil {
		h.fail(w, "list user roles", err)
		return
	}
	refs := make([]roleRef, 0, len(roles))
	for _, role := range roles {
		refs = append(refs, roleRef{ID: role.ID, Name: role.Name})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": refs})
}

func (h *Handler) setUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r, "id")
	if !ok {
		return
	}
	var req setRolesRequest
	if !h.bind(w, r, &req) {
		return
	}
	if req.RoleIDs == nil {
		req.RoleIDs = []int64{}
	}
	if err := h.service.SetRoles(r.Context(), id, req.RoleIDs); err != nil {
		h.fail(w, "set user roles", err)
		return
	}
	h.respondDetail(w, r, id, http.StatusOK)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.id(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := h.id(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.Assign(r.Context(), userID, roleID); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unassignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.id(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := h.id(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.Unassign(r.Context(), userID, roleID); err != nil {
		h.fail(w, "unassign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUserPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r, "id")
	if !ok {
		return
	}
	perms, err := h.rbac.Authorizer.EffectivePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, "list user permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": id, "permissions": perms.Sorted()})
}

func (h *Handler) respondDetail(w http.ResponseWriter, r *http.Request, id int64, status int) {
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "reload user", err)
		return
	}
	httpx.JSON(w, status, toResponse(detail))
}

func (h *Handler) id(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := httpx.IDParam(r, name)
	if err != nil {
		httpx.RespondError(w, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) bind(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.FieldProblem(w, httpx.ValidationFields(err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if h.logger != nil {
		h.logger.Warn(msg, slog.Any("error", err))
	}
	rbac.RespondError(w, err)
}
