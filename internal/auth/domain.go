package auth

import (
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

// Profile describes the authenticated user.
type Profile struct {
	User        rbac.User
	Roles       []string
	Permissions []rbac.PermissionID
}

type loginRequest struct {
	Login    string `json:"login" validate:"required,max=120"`
	Password string `json:"password" validate:"required"`
}

type profileResponse struct {
	ID          int64               `json:"id"`
	Username    string              `json:"username"`
	Email       string              `json:"email"`
	FullName    string              `json:"full_name"`
	Roles       []string            `json:"roles"`
	Permissions []rbac.PermissionID `json:"permissions"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func toProfileResponse(p Profile) profileResponse {
	return profileResponse{
		ID:          p.User.ID,
		Username:    p.User.Username,
		Email:       p.User.Email,
		FullName:    p.User.FullName(),
		Roles:       p.Roles,
		Permissions: p.Permissions,
	}
}
