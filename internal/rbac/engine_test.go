package rbac_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

type recordingObserver struct {
	mu        sync.Mutex
	decisions []string
}

func (o *recordingObserver) ObserveDecision(kind, subject string, granted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	o.decisions = append(o.decisions, kind+":"+subject+":"+outcome)
}

func TestEffectivePermissionsUnionAcrossRoles(t *testing.T) {
	f := newFixture(t)
	hod := f.role(t, "HOD", "document_approve", "reports_view")
	emp := f.role(t, "emp", "document_create", "reports_view")
	user := f.user(t, "alice", true, hod, emp)

	authz := rbac.NewAuthorizer(f.store, nil)
	perms, err := authz.EffectivePermissions(f.ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []rbac.PermissionID{"document_approve", "document_create", "reports_view"}, perms.Sorted())
}

func TestEffectivePermissionsEdgeCases(t *testing.T) {
	f := newFixture(t)
	admin := f.role(t, "admin", rbac.PermAdminAccess)
	noRoles := f.user(t, "bob", true)
	inactive := f.user(t, "carol", false, admin)
	authz := rbac.NewAuthorizer(f.store, nil)

	perms, err := authz.EffectivePermissions(f.ctx, noRoles.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)

	perms, err = authz.EffectivePermissions(f.ctx, inactive.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)

	_, err = authz.EffectivePermissions(f.ctx, 999)
	assert.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestHasPermission(t *testing.T) {
	f := newFixture(t)
	hod := f.role(t, "hod", "document_approve")
	user := f.user(t, "dave", true, hod)
	inactive := f.user(t, "erin", false, hod)
	observer := &recordingObserver{}
	authz := rbac.NewAuthorizer(f.store, observer)

	cases := []struct {
		name   string
		userID int64
		perm   rbac.PermissionID
		want   bool
	}{
		{"granted", user.ID, "document_approve", true},
		{"not granted", user.ID, "admin_access", false},
		{"unknown permission", user.ID, "launch_rockets", false},
		{"unknown user", 4242, "document_approve", false},
		{"inactive user", inactive.ID, "document_approve", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := authz.HasPermission(f.ctx, tc.userID, tc.perm)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
	assert.Len(t, observer.decisions, len(cases))
	assert.Equal(t, "permission:document_approve:granted", observer.decisions[0])
}

func TestHasRoleIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	hod := f.role(t, "HOD")
	user := f.user(t, "frank", true, hod)
	inactive := f.user(t, "grace", false, hod)
	authz := rbac.NewAuthorizer(f.store, nil)

	for _, name := range []string{"HOD", "hod", "Hod"} {
		ok, err := authz.HasRole(f.ctx, user.ID, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}

	ok, err := authz.HasRole(f.ctx, user.ID, "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = authz.HasRole(f.ctx, inactive.ID, "hod")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = authz.HasRole(f.ctx, 777, "hod")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoleEditIsVisibleImmediately(t *testing.T) {
	f := newFixture(t)
	emp := f.role(t, "emp", "document_view")
	u1 := f.user(t, "henry", true, emp)
	u2 := f.user(t, "iris", true, emp)
	authz := rbac.NewAuthorizer(f.store, nil)

	err := f.store.WithTx(f.ctx, func(ctx context.Context, tx rbac.Tx) error {
		role, err := tx.GetRole(ctx, emp.ID)
		if err != nil {
			return err
		}
		role.Permissions = rbac.NewPermissionSet("document_view", "reports_view")
		_, err = tx.UpdateRole(ctx, role)
		return err
	})
	require.NoError(t, err)

	for _, id := range []int64{u1.ID, u2.ID} {
		ok, err := authz.HasPermission(f.ctx, id, "reports_view")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestHasAnyHasAll(t *testing.T) {
	f := newFixture(t)
	role := f.role(t, "viewer", rbac.PermUserView, rbac.PermAuditView)
	user := f.user(t, "jane", true, role)
	authz := rbac.NewAuthorizer(f.store, nil)

	ok, err := authz.HasAny(f.ctx, user.ID, rbac.PermUserEdit, rbac.PermUserView)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = authz.HasAll(f.ctx, user.ID, rbac.PermUserView, rbac.PermUserEdit)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = authz.HasAll(f.ctx, user.ID, rbac.PermUserView, rbac.PermAuditView)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = authz.HasAny(f.ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = authz.HasAny(f.ctx, 31337, rbac.PermUserView)
	require.NoError(t, err)
	assert.False(t, ok)
}
