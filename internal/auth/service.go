package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/users"
)

// Service wraps authentication business rules.
type Service struct {
	reader rbac.Reader
	hasher users.CredentialHasher
	authz  *rbac.Authorizer
}

// NewService constructs a new Service.
func NewService(reader rbac.Reader, hasher users.CredentialHasher, authz *rbac.Authorizer) *Service {
	return &Service{reader: reader, hasher: hasher, authz: authz}
}

// Authenticate validates username or email credentials. Inactive accounts
// are rejected like unknown ones.
func (s *Service) Authenticate(ctx context.Context, login, password string) (rbac.User, error) {
	login = strings.TrimSpace(login)
	var (
		user rbac.User
		err  error
	)
	if strings.Contains(login, "@") {
		user, err = s.reader.GetUserByEmail(ctx, login)
	} else {
		user, err = s.reader.GetUserByUsername(ctx, login)
	}
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			return rbac.User{}, shared.ErrInvalidCredentials
		}
		return rbac.User{}, err
	}
	if !user.IsActive {
		return rbac.User{}, shared.ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return rbac.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Profile loads the user with role names and effective permissions.
func (s *Service) Profile(ctx context.Context, userID int64) (Profile, error) {
	user, err := s.reader.GetUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	roles, err := s.reader.RolesOfUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	perms, err := s.authz.EffectivePermissions(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return Profile{User: user, Roles: names, Permissions: perms.Sorted()}, nil
}
