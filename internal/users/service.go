package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Service handles user business logic and role membership.
type Service struct {
	store    rbac.Store
	registry *rbac.Registry
	guard    rbac.Guard
	hasher   CredentialHasher
	audit    shared.AuditRecorder
	logger   *slog.Logger
}

// NewService builds Service instance. audit may be nil.
func NewService(store rbac.Store, registry *rbac.Registry, guard rbac.Guard, hasher CredentialHasher, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, registry: registry, guard: guard, hasher: hasher, audit: audit, logger: logger}
}

// Create stores a new account and assigns its initial roles in the same
// transaction.
func (s *Service) Create(ctx context.Context, in CreateUserInput) (rbac.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	password := strings.TrimSpace(in.Password)
	switch {
	case username == "":
		return rbac.User{}, &rbac.ValidationError{Field: "username", Message: "is required"}
	case email == "":
		return rbac.User{}, &rbac.ValidationError{Field: "email", Message: "is required"}
	case password == "":
		return rbac.User{}, &rbac.ValidationError{Field: "password", Message: "is required"}
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return rbac.User{}, fmt.Errorf("hash password: %w", err)
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	var created rbac.User
	err = s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		created, err = tx.InsertUser(ctx, rbac.User{
			Username:     username,
			Email:        email,
			FirstName:    strings.TrimSpace(in.FirstName),
			LastName:     strings.TrimSpace(in.LastName),
			PasswordHash: hash,
			IsActive:     active,
		})
		if err != nil {
			return err
		}
		for _, roleID := range in.RoleIDs {
			if _, err := tx.AddUserRole(ctx, created.ID, roleID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return rbac.User{}, fmt.Errorf("create user: %w", err)
	}
	s.record(ctx, "user.create", created.ID, map[string]any{"username": created.Username, "role_ids": in.RoleIDs})
	return created, nil
}

// Update edits account fields, optionally replacing the role set and the
// password. The whole update is guarded.
func (s *Service) Update(ctx context.Context, id int64, in UpdateUserInput) (rbac.User, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return rbac.User{}, &rbac.ValidationError{Field: "email", Message: "is required"}
	}
	var hash string
	if password := strings.TrimSpace(in.Password); password != "" {
		var err error
		if hash, err = s.hasher.Hash(password); err != nil {
			return rbac.User{}, fmt.Errorf("hash password: %w", err)
		}
	}
	var updated rbac.User
	err := s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		user, err := lockedUser(ctx, tx, id)
		if err != nil {
			return err
		}
		deactivating := in.Active != nil && !*in.Active && user.IsActive
		user.Email = email
		user.FirstName = strings.TrimSpace(in.FirstName)
		user.LastName = strings.TrimSpace(in.LastName)
		if in.Active != nil {
			user.IsActive = *in.Active
		}
		if hash != "" {
			user.PasswordHash = hash
		}
		apply := func() error {
			if updated, err = tx.UpdateUser(ctx, user); err != nil {
				return err
			}
			if in.RoleIDs == nil {
				return nil
			}
			return replaceRoles(ctx, tx, id, in.RoleIDs)
		}
		// Role replacement and deactivation are checked by the guard; plain
		// field edits still run under it since is_active is rewritten too.
		op := rbac.OpUpdateUser
		switch {
		case in.RoleIDs != nil:
			op = rbac.OpReplaceUserRoles
		case deactivating:
			op = rbac.OpDeactivateUser
		}
		return s.guard.Protect(ctx, tx, op, apply)
	})
	if err != nil {
		return rbac.User{}, fmt.Errorf("update user: %w", err)
	}
	meta := map[string]any{"is_active": updated.IsActive, "password_changed": hash != ""}
	if in.RoleIDs != nil {
		meta["role_ids"] = in.RoleIDs
	}
	s.record(ctx, "user.update", updated.ID, meta)
	return updated, nil
}

// SetActive sets the active flag. Deactivation is guarded.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) (rbac.User, error) {
	var updated rbac.User
	err := s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		user, err := lockedUser(ctx, tx, id)
		if err != nil {
			return err
		}
		updated, err = s.setActive(ctx, tx, user, active)
		return err
	})
	if err != nil {
		return rbac.User{}, fmt.Errorf("set user active: %w", err)
	}
	s.record(ctx, "user.set_active", id, map[string]any{"is_active": updated.IsActive})
	return updated, nil
}

// ToggleActive flips the active flag. Deactivation is guarded.
func (s *Service) ToggleActive(ctx context.Context, id int64) (rbac.User, error) {
	var updated rbac.User
	err := s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		user, err := lockedUser(ctx, tx, id)
		if err != nil {
			return err
		}
		updated, err = s.setActive(ctx, tx, user, !user.IsActive)
		return err
	})
	if err != nil {
		return rbac.User{}, fmt.Errorf("toggle user: %w", err)
	}
	s.record(ctx, "user.toggle", id, map[string]any{"is_active": updated.IsActive})
	return updated, nil
}

// lockedUser takes the guard lock before reading id. Account writes rewrite
// every column, so the row must be read after any concurrent writer commits.
func lockedUser(ctx context.Context, tx rbac.Tx, id int64) (rbac.User, error) {
	if err := tx.LockGuard(ctx); err != nil {
		return rbac.User{}, fmt.Errorf("lock accounts: %w", err)
	}
	return tx.GetUser(ctx, id)
}

func (s *Service) setActive(ctx context.Context, tx rbac.Tx, user rbac.User, active bool) (rbac.User, error) {
	if user.IsActive == active {
		return user, nil
	}
	user.IsActive = active
	if active {
		return tx.UpdateUser(ctx, user)
	}
	var updated rbac.User
	err := s.guard.Protect(ctx, tx, rbac.OpDeactivateUser, func() error {
		var err error
		updated, err = tx.UpdateUser(ctx, user)
		return err
	})
	return updated, err
}

// Delete removes an account and its role assignments.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var username string
	err := s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		user, err := lockedUser(ctx, tx, id)
		if err != nil {
			return err
		}
		username = user.Username
		return s.guard.Protect(ctx, tx, rbac.OpDeleteUser, func() error {
			return tx.DeleteUser(ctx, id)
		})
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	s.record(ctx, "user.delete", id, map[string]any{"username": username})
	return nil
}

// Assign grants roleID to userID. Assigning a held role is a no-op.
func (s *Service) Assign(ctx context.Context, userID, roleID int64) error {
	var added bool
	err := s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		var err error
		added, err = tx.AddUserRole(ctx, userID, roleID)
		return err
	})
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	if added {
		s.record(ctx, "user.assign_role", userID, map[string]any{"role_id": roleID})
	}
	return nil
}

// Unassign revokes roleID from userID. Revoking a role the user does not
// hold is a no-op.
func (s *Service) Unassign(ctx context.Context, userID, roleID int64) error {
	var removed bool
	err := s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return err
		}
		return s.guard.Protect(ctx, tx, rbac.OpUnassignRole, func() error {
			var err error
			removed, err = tx.RemoveUserRole(ctx, userID, roleID)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("unassign role: %w", err)
	}
	if removed {
		s.record(ctx, "user.unassign_role", userID, map[string]any{"role_id": roleID})
	}
	return nil
}

// SetRoles replaces the role set of userID.
func (s *Service) SetRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		return s.guard.Protect(ctx, tx, rbac.OpReplaceUserRoles, func() error {
			return replaceRoles(ctx, tx, userID, roleIDs)
		})
	})
	if err != nil {
		return fmt.Errorf("set user roles: %w", err)
	}
	s.record(ctx, "user.set_roles", userID, map[string]any{"role_ids": roleIDs})
	return nil
}

// RolesOf returns the roles held by userID ordered by name. Memberships of
// inactive users are returned as stored.
func (s *Service) RolesOf(ctx context.Context, userID int64) ([]rbac.Role, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.RolesOfUser(ctx, userID)
}

// Get returns the account with its roles.
func (s *Service) Get(ctx context.Context, id int64) (Detail, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	roles, err := s.store.RolesOfUser(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{User: user, Roles: roles}, nil
}

// List returns accounts matching filter with their roles.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Detail, error) {
	users, err := s.store.ListUsers(ctx, rbac.UserFilter{Search: strings.TrimSpace(filter.Search), ActiveOnly: filter.ActiveOnly})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]Detail, 0, len(users))
	for _, u := range users {
		roles, err := s.store.RolesOfUser(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("list user roles: %w", err)
		}
		out = append(out, Detail{User: u, Roles: roles})
	}
	return out, nil
}

// Stats returns dashboard counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	users, err := s.store.ListUsers(ctx, rbac.UserFilter{})
	if err != nil {
		return Stats{}, fmt.Errorf("count users: %w", err)
	}
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count roles: %w", err)
	}
	stats := Stats{TotalUsers: len(users), TotalRoles: len(roles), TotalPermissions: s.registry.Len()}
	for _, u := range users {
		if u.IsActive {
			stats.ActiveUsers++
		}
	}
	stats.InactiveUsers = stats.TotalUsers - stats.ActiveUsers
	return stats, nil
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}

func replaceRoles(ctx context.Context, tx rbac.Tx, userID int64, roleIDs []int64) error {
	current, err := tx.RolesOfUser(ctx, userID)
	if err != nil {
		return err
	}
	want := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		want[id] = struct{}{}
	}
	for _, role := range current {
		if _, keep := want[role.ID]; keep {
			continue
		}
		if _, err := tx.RemoveUserRole(ctx, userID, role.ID); err != nil {
			return err
		}
	}
	for _, id := range roleIDs {
		if _, err := tx.AddUserRole(ctx, userID, id); err != nil {
			return err
		}
	}
	return nil
}
