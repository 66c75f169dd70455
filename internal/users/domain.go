package users

import (
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

// CreateUserInput carries the fields of a new account.
type CreateUserInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	// Active defaults to true when nil.
	Active  *bool
	RoleIDs []int64
}

// UpdateUserInput edits an existing account. A nil RoleIDs keeps the current
// role set, an empty non-nil slice clears it. An empty Password keeps the
// current hash.
type UpdateUserInput struct {
	Email     string
	FirstName string
	LastName  string
	Active    *bool
	Password  string
	RoleIDs   []int64
}

// ListFilter narrows List results.
type ListFilter struct {
	Search     string
	ActiveOnly bool
}

// Stats summarises the account population for the admin dashboard.
type Stats struct {
	TotalUsers       int `json:"total_users"`
	ActiveUsers      int `json:"active_users"`
	InactiveUsers    int `json:"inactive_users"`
	TotalRoles       int `json:"total_roles"`
	TotalPermissions int `json:"total_permissions"`
}

// Detail is a user together with the roles it holds.
type Detail struct {
	rbac.User
	Roles []rbac.Role
}

type createUserRequest struct {
	Username  string  `json:"username" validate:"required,max=64"`
	Email     string  `json:"email" validate:"required,email,max=120"`
	Password  string  `json:"password" validate:"required,min=8,max=72"`
	FirstName string  `json:"first_name" validate:"max=64"`
	LastName  string  `json:"last_name" validate:"max=64"`
	IsActive  *bool   `json:"is_active"`
	RoleIDs   []int64 `json:"role_ids" validate:"dive,gt=0"`
}

type updateUserRequest struct {
	Email     string  `json:"email" validate:"required,email,max=120"`
	FirstName string  `json:"first_name" validate:"max=64"`
	LastName  string  `json:"last_name" validate:"max=64"`
	IsActive  *bool   `json:"is_active"`
	Password  string  `json:"password" validate:"omitempty,min=8,max=72"`
	RoleIDs   []int64 `json:"role_ids" validate:"omitempty,dive,gt=0"`
}

type setRolesRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"dive,gt=0"`
}

type roleRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type userResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	FullName  string    `json:"full_name"`
	IsActive  bool      `json:"is_active"`
	Roles     []roleRef `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toResponse(d Detail) userResponse {
	refs := make([]roleRef, 0, len(d.Roles))
	for _, r := range d.Roles {
		refs = append(refs, roleRef{ID: r.ID, Name: r.Name})
	}
	return userResponse{
		ID:        d.ID,
		Username:  d.Username,
		Email:     d.Email,
		FirstName: d.FirstName,
		LastName:  d.LastName,
		FullName:  d.FullName(),
		IsActive:  d.IsActive,
		Roles:     refs,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
