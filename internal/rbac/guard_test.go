package rbac_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

func deleteUser(f *fixture, guard rbac.Guard, id int64) error {
	return f.store.WithTx(f.ctx, func(ctx context.Context, tx rbac.Tx) error {
		return guard.Protect(ctx, tx, rbac.OpDeleteUser, func() error {
			return tx.DeleteUser(ctx, id)
		})
	})
}

func TestGuardRejectsRemovingLastAdmin(t *testing.T) {
	f := newFixture(t)
	admin := f.role(t, "admin", rbac.PermAdminAccess)
	root := f.user(t, "root", true, admin)
	guard := rbac.NewGuard(rbac.PermAdminAccess, nil)

	err := deleteUser(f, guard, root.ID)
	var last *rbac.LastAdminError
	require.True(t, errors.As(err, &last))
	assert.Equal(t, rbac.OpDeleteUser, last.Operation)
	assert.ErrorIs(t, err, rbac.ErrLastAdmin)

	_, err = f.store.GetUser(f.ctx, root.ID)
	require.NoError(t, err, "rolled back delete must leave the user in place")
	roles, err := f.store.RolesOfUser(f.ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestGuardAllowsWhenAnotherAdminRemains(t *testing.T) {
	f := newFixture(t)
	admin := f.role(t, "admin", rbac.PermAdminAccess)
	a := f.user(t, "a", true, admin)
	f.user(t, "b", true, admin)
	guard := rbac.NewGuard(rbac.PermAdminAccess, nil)

	require.NoError(t, deleteUser(f, guard, a.ID))
	count, err := f.store.CountActiveHolders(f.ctx, rbac.PermAdminAccess)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGuardIgnoresInactiveAdmins(t *testing.T) {
	f := newFixture(t)
	admin := f.role(t, "admin", rbac.PermAdminAccess)
	active := f.user(t, "active", true, admin)
	f.user(t, "dormant", false, admin)
	guard := rbac.NewGuard(rbac.PermAdminAccess, nil)

	err := deleteUser(f, guard, active.ID)
	assert.ErrorIs(t, err, rbac.ErrLastAdmin)
}

func TestGuardPermitsSystemsWithoutAdmins(t *testing.T) {
	f := newFixture(t)
	emp := f.role(t, "emp", "document_view")
	u := f.user(t, "solo", true, emp)
	guard := rbac.NewGuard(rbac.PermAdminAccess, nil)

	require.NoError(t, deleteUser(f, guard, u.ID))
}

func TestGuardCountsPermissionNotRoleName(t *testing.T) {
	f := newFixture(t)
	admin := f.role(t, "admin", "document_view")
	ops := f.role(t, "ops", rbac.PermAdminAccess)
	f.user(t, "named-admin", true, admin)
	holder := f.user(t, "holder", true, ops)
	guard := rbac.NewGuard(rbac.PermAdminAccess, nil)

	err := deleteUser(f, guard, holder.ID)
	assert.ErrorIs(t, err, rbac.ErrLastAdmin)
}

func TestGuardSerializesConcurrentRemovals(t *testing.T) {
	f := newFixture(t)
	admin := f.role(t, "admin", rbac.PermAdminAccess)
	a := f.user(t, "a", true, admin)
	b := f.user(t, "b", true, admin)
	guard := rbac.NewGuard(rbac.PermAdminAccess, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			errs[i] = deleteUser(f, guard, id)
		}(i, id)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, rbac.ErrLastAdmin)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	count, err := f.store.CountActiveHolders(f.ctx, rbac.PermAdminAccess)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type failingTx struct {
	rbac.Tx
	lockErr  error
	countErr error
}

func (f failingTx) LockGuard(context.Context) error { return f.lockErr }

func (f failingTx) CountActiveHolders(context.Context, rbac.PermissionID) (int, error) {
	return 1, f.countErr
}

func TestGuardPropagatesStoreErrors(t *testing.T) {
	guard := rbac.NewGuard(rbac.PermAdminAccess, nil)
	boom := errors.New("boom")
	applied := false
	apply := func() error { applied = true; return nil }

	err := guard.Protect(context.Background(), failingTx{lockErr: boom}, rbac.OpDeleteRole, apply)
	assert.ErrorIs(t, err, boom)
	assert.False(t, applied)

	err = guard.Protect(context.Background(), failingTx{countErr: boom}, rbac.OpDeleteRole, apply)
	assert.ErrorIs(t, err, boom)
	assert.False(t, applied)
}

func TestGuardReturnsApplyError(t *testing.T) {
	guard := rbac.NewGuard(rbac.PermAdminAccess, nil)
	boom := errors.New("apply failed")
	err := guard.Protect(context.Background(), failingTx{}, rbac.OpDeleteRole, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, rbac.PermAdminAccess, guard.Permission())
}
