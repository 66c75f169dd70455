package rbac_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

type fixture struct {
	store *rbac.MemoryRepository
	ctx   context.Context
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	store, err := rbac.NewMemoryRepository()
	require.NoError(t, err)
	return &fixture{store: store, ctx: context.Background()}
}

func (f *fixture) role(t testing.TB, name string, perms ...rbac.PermissionID) rbac.Role {
	t.Helper()
	var role rbac.Role
	err := f.store.WithTx(f.ctx, func(ctx context.Context, tx rbac.Tx) error {
		var err error
		role, err = tx.InsertRole(ctx, rbac.Role{Name: name, Permissions: rbac.NewPermissionSet(perms...)})
		return err
	})
	require.NoError(t, err)
	return role
}

func (f *fixture) user(t testing.TB, username string, active bool, roles ...rbac.Role) rbac.User {
	t.Helper()
	var user rbac.User
	err := f.store.WithTx(f.ctx, func(ctx context.Context, tx rbac.Tx) error {
		var err error
		user, err = tx.InsertUser(ctx, rbac.User{Username: username, Email: username + "@example.com", IsActive: active})
		if err != nil {
			return err
		}
		for _, r := range roles {
			if _, err := tx.AddUserRole(ctx, user.ID, r.ID); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return user
}
