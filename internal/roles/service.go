package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Service handles role business logic.
type Service struct {
	store    rbac.Store
	registry *rbac.Registry
	guard    rbac.Guard
	audit    shared.AuditRecorder
	logger   *slog.Logger
}

// NewService builds Service instance. audit may be nil.
func NewService(store rbac.Store, registry *rbac.Registry, guard rbac.Guard, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, registry: registry, guard: guard, audit: audit, logger: logger}
}

// Create stores a new role after validating its name and permissions.
func (s *Service) Create(ctx context.Context, in CreateRoleInput) (rbac.Role, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return rbac.Role{}, err
	}
	perms, err := s.registry.Validate(in.Permissions)
	if err != nil {
		return rbac.Role{}, err
	}
	var created rbac.Role
	err = s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		created, err = tx.InsertRole(ctx, rbac.Role{
			Name:        name,
			Description: strings.TrimSpace(in.Description),
			Permissions: perms,
		})
		return err
	})
	if err != nil {
		return rbac.Role{}, fmt.Errorf("create role: %w", err)
	}
	s.record(ctx, "role.create", created.ID, map[string]any{"name": created.Name, "permissions": created.Permissions.Sorted()})
	return created, nil
}

// Get returns the role identified by id.
func (s *Service) Get(ctx context.Context, id int64) (rbac.Role, error) {
	return s.store.GetRole(ctx, id)
}

// UpdatePermissions replaces the permission set of a role atomically.
func (s *Service) UpdatePermissions(ctx context.Context, id int64, ids []string) (rbac.Role, error) {
	perms, err := s.registry.Validate(ids)
	if err != nil {
		return rbac.Role{}, err
	}
	var updated rbac.Role
	err = s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		role.Permissions = perms
		return s.guard.Protect(ctx, tx, rbac.OpUpdateRolePermissions, func() error {
			updated, err = tx.UpdateRole(ctx, role)
			return err
		})
	})
	if err != nil {
		return rbac.Role{}, fmt.Errorf("update role permissions: %w", err)
	}
	s.record(ctx, "role.update_permissions", updated.ID, map[string]any{"permissions": updated.Permissions.Sorted()})
	return updated, nil
}

// Update edits the name, description and permission set in one transaction.
func (s *Service) Update(ctx context.Context, id int64, in UpdateRoleInput) (rbac.Role, error) {
	perms, err := s.registry.Validate(in.Permissions)
	if err != nil {
		return rbac.Role{}, err
	}
	var name string
	if strings.TrimSpace(in.Name) != "" {
		if name, err = validateName(in.Name); err != nil {
			return rbac.Role{}, err
		}
	}
	var updated rbac.Role
	err = s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if name != "" {
			role.Name = name
		}
		role.Description = strings.TrimSpace(in.Description)
		role.Permissions = perms
		return s.guard.Protect(ctx, tx, rbac.OpUpdateRolePermissions, func() error {
			updated, err = tx.UpdateRole(ctx, role)
			return err
		})
	})
	if err != nil {
		return rbac.Role{}, fmt.Errorf("update role: %w", err)
	}
	s.record(ctx, "role.update", updated.ID, map[string]any{"name": updated.Name, "permissions": updated.Permissions.Sorted()})
	return updated, nil
}

// Delete removes a role and its assignments.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var name string
	err := s.store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		name = role.Name
		return s.guard.Protect(ctx, tx, rbac.OpDeleteRole, func() error {
			return tx.DeleteRole(ctx, id)
		})
	})
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	s.record(ctx, "role.delete", id, map[string]any{"name": name})
	return nil
}

// ListWithUserCounts returns every role with the number of users holding it.
func (s *Service) ListWithUserCounts(ctx context.Context) ([]rbac.RoleSummary, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	counts, err := s.store.RoleUserCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count role users: %w", err)
	}
	summaries := make([]rbac.RoleSummary, 0, len(roles))
	for _, role := range roles {
		summaries = append(summaries, rbac.RoleSummary{Role: role, UserCount: counts[role.ID]})
	}
	return summaries, nil
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   action,
		Entity:   "role",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	switch {
	case name == "":
		return "", &rbac.ValidationError{Field: "name", Message: "is required"}
	case len(name) > maxRoleNameLength:
		return "", &rbac.ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxRoleNameLength)}
	}
	return name, nil
}
