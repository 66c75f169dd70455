package rbac

import "context"

// Reader exposes the read side of the role/user/association store.
type Reader interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	// RoleUserCounts joins roles against the association table.
	RoleUserCounts(ctx context.Context) (map[int64]int, error)

	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]User, error)

	// RolesOfUser returns the roles assigned to userID ordered by name.
	RolesOfUser(ctx context.Context, userID int64) ([]Role, error)
	// CountActiveHolders counts active users whose effective permissions
	// contain perm.
	CountActiveHolders(ctx context.Context, perm PermissionID) (int, error)
}

// Tx is a store transaction. Writes become visible to other readers only
// after the enclosing WithTx callback returns nil.
type Tx interface {
	Reader

	// LockGuard serializes guarded mutations across concurrent transactions.
	LockGuard(ctx context.Context) error

	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error

	InsertUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	DeleteUser(ctx context.Context, id int64) error

	// AddUserRole reports whether a new association row was created.
	AddUserRole(ctx context.Context, userID, roleID int64) (bool, error)
	// RemoveUserRole reports whether an association row was removed.
	RemoveUserRole(ctx context.Context, userID, roleID int64) (bool, error)
}

// Store is the durable collaborator backing the RBAC core.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}
