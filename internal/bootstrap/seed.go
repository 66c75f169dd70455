// Package bootstrap seeds the permission catalog, the default roles and the
// first administrator.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/users"
)

// RoleTemplate describes a role created on first boot.
type RoleTemplate struct {
	Name        string
	Description string
	Permissions []rbac.PermissionID
}

// DefaultRoles are the roles every installation starts with.
var DefaultRoles = []RoleTemplate{
	{
		Name:        "admin",
		Description: "Administrator with full system access",
		Permissions: []rbac.PermissionID{
			"user_view", "user_create", "user_edit", "user_delete",
			"document_view", "document_create", "document_edit_all", "document_approve", "document_reject",
			"document_submit", "admin_access", "role_manage", "reports_view", "audit_view", "workflow_manage",
		},
	},
	{
		Name:        "hod",
		Description: "Head of Department - Can approve documents and manage team",
		Permissions: []rbac.PermissionID{
			"document_view", "document_create", "document_edit", "document_approve",
			"document_reject", "document_submit", "reports_view", "audit_view",
		},
	},
	{
		Name:        "emp",
		Description: "Regular employee - Can create and view own documents",
		Permissions: []rbac.PermissionID{
			"document_view", "document_create", "document_edit", "document_submit", "reports_view",
		},
	},
}

// PermissionSyncer is implemented by stores that persist the catalog.
type PermissionSyncer interface {
	SyncPermissions(ctx context.Context, perms []rbac.Permission) error
}

// Options configures the bootstrap administrator. An empty AdminPassword
// skips admin creation.
type Options struct {
	AdminUsername string
	AdminEmail    string
	AdminPassword string
	Roles         []RoleTemplate
}

// Result reports what Seed changed.
type Result struct {
	PermissionsSynced int
	RolesCreated      []string
	AdminCreated      bool
	AdminSkipped      bool
}

// Seed is idempotent: existing roles and users are left untouched.
func Seed(ctx context.Context, store rbac.Store, registry *rbac.Registry, hasher users.CredentialHasher, opts Options, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Roles == nil {
		opts.Roles = DefaultRoles
	}
	var res Result
	if syncer, ok := store.(PermissionSyncer); ok {
		if err := syncer.SyncPermissions(ctx, registry.List()); err != nil {
			return res, fmt.Errorf("sync permissions: %w", err)
		}
		res.PermissionsSynced = registry.Len()
	}

	var hash string
	if opts.AdminPassword != "" {
		var err error
		if hash, err = hasher.Hash(opts.AdminPassword); err != nil {
			return res, fmt.Errorf("hash admin password: %w", err)
		}
	}

	err := store.WithTx(ctx, func(ctx context.Context, tx rbac.Tx) error {
		res.RolesCreated = nil
		var adminRoleID int64
		for _, tpl := range opts.Roles {
			role, created, err := ensureRole(ctx, tx, registry, tpl)
			if err != nil {
				return err
			}
			if created {
				res.RolesCreated = append(res.RolesCreated, role.Name)
			}
			if role.Permissions.Has(rbac.PermAdminAccess) && adminRoleID == 0 {
				adminRoleID = role.ID
			}
		}

		if opts.AdminUsername == "" {
			return nil
		}
		_, err := tx.GetUserByUsername(ctx, opts.AdminUsername)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, rbac.ErrNotFound):
			return err
		}
		if hash == "" {
			res.AdminSkipped = true
			return nil
		}
		admin, err := tx.InsertUser(ctx, rbac.User{
			Username:     opts.AdminUsername,
			Email:        opts.AdminEmail,
			FirstName:    "System",
			LastName:     "Administrator",
			PasswordHash: hash,
			IsActive:     true,
		})
		if err != nil {
			return err
		}
		if adminRoleID != 0 {
			if _, err := tx.AddUserRole(ctx, admin.ID, adminRoleID); err != nil {
				return err
			}
		}
		res.AdminCreated = true
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("seed: %w", err)
	}

	logger.Info("seed complete",
		slog.Int("permissions_synced", res.PermissionsSynced),
		slog.Any("roles_created", res.RolesCreated),
		slog.Bool("admin_created", res.AdminCreated))
	if res.AdminSkipped {
		logger.Warn("bootstrap admin not created: no password configured", slog.String("username", opts.AdminUsername))
	}
	return res, nil
}

func ensureRole(ctx context.Context, tx rbac.Tx, registry *rbac.Registry, tpl RoleTemplate) (rbac.Role, bool, error) {
	role, err := tx.GetRoleByName(ctx, tpl.Name)
	if err == nil {
		return role, false, nil
	}
	if !errors.Is(err, rbac.ErrNotFound) {
		return rbac.Role{}, false, err
	}
	raw := make([]string, 0, len(tpl.Permissions))
	for _, p := range tpl.Permissions {
		raw = append(raw, string(p))
	}
	perms, err := registry.Validate(raw)
	if err != nil {
		return rbac.Role{}, false, fmt.Errorf("role %s: %w", tpl.Name, err)
	}
	role, err = tx.InsertRole(ctx, rbac.Role{Name: tpl.Name, Description: tpl.Description, Permissions: perms})
	if err != nil {
		return rbac.Role{}, false, err
	}
	return role, true, nil
}
