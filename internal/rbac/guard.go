package rbac

import (
	"context"
	"fmt"
	"log/slog"
)

// Operation names a mutation the Guard protects.
type Operation string

const (
	OpDeleteUser            Operation = "delete_user"
	OpUpdateUser            Operation = "update_user"
	OpDeactivateUser        Operation = "deactivate_user"
	OpUnassignRole          Operation = "unassign_role"
	OpReplaceUserRoles      Operation = "replace_user_roles"
	OpUpdateRolePermissions Operation = "update_role_permissions"
	OpDeleteRole            Operation = "delete_role"
)

func (o Operation) String() string { return string(o) }

// Guard enforces that at least one active user keeps administrative access.
// Capability is derived from effective permissions, never from role names.
type Guard struct {
	permission PermissionID
	logger     *slog.Logger
}

// NewGuard builds a Guard protecting holders of perm. logger may be nil.
func NewGuard(perm PermissionID, logger *slog.Logger) Guard {
	return Guard{permission: perm, logger: logger}
}

// Permission returns the protected permission.
func (g Guard) Permission() PermissionID { return g.permission }

// Protect runs apply inside tx and fails with LastAdminError when the number
// of active holders drops from at least one to zero. Callers must return the
// error from their WithTx callback so the transaction rolls back.
func (g Guard) Protect(ctx context.Context, tx Tx, op Operation, apply func() error) error {
	if err := tx.LockGuard(ctx); err != nil {
		return fmt.Errorf("rbac guard: lock: %w", err)
	}
	before, err := tx.CountActiveHolders(ctx, g.permission)
	if err != nil {
		return fmt.Errorf("rbac guard: count before %s: %w", op, err)
	}
	if err := apply(); err != nil {
		return err
	}
	if before == 0 {
		return nil
	}
	after, err := tx.CountActiveHolders(ctx, g.permission)
	if err != nil {
		return fmt.Errorf("rbac guard: count after %s: %w", op, err)
	}
	if after == 0 {
		if g.logger != nil {
			g.logger.Warn("rbac guard rejected mutation",
				slog.String("operation", op.String()),
				slog.String("permission", string(g.permission)))
		}
		return &LastAdminError{Operation: op}
	}
	return nil
}
