package roles

import (
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

const maxRoleNameLength = 64

// CreateRoleInput carries the fields of a new role.
type CreateRoleInput struct {
	Name        string
	Description string
	Permissions []string
}

// UpdateRoleInput replaces the editable fields of a role. An empty Name keeps
// the current name.
type UpdateRoleInput struct {
	Name        string
	Description string
	Permissions []string
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Description string   `json:"description" validate:"max=255"`
	Permissions []string `json:"permissions" validate:"dive,required"`
}

type updateRoleRequest struct {
	Name        string   `json:"name" validate:"max=64"`
	Description string   `json:"description" validate:"max=255"`
	Permissions []string `json:"permissions" validate:"dive,required"`
}

type permissionsRequest struct {
	Permissions []string `json:"permissions" validate:"dive,required"`
}

type roleResponse struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Permissions []rbac.PermissionID `json:"permissions"`
	UserCount   *int                `json:"user_count,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func toResponse(role rbac.Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Permissions: role.Permissions.Sorted(),
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

func toSummaryResponse(summary rbac.RoleSummary) roleResponse {
	resp := toResponse(summary.Role)
	count := summary.UserCount
	resp.UserCount = &count
	return resp
}
