package rbac

import (
	"context"
	"errors"
)

// DecisionObserver receives every boolean authorization decision.
type DecisionObserver interface {
	ObserveDecision(kind, subject string, granted bool)
}

// Authorizer answers authorization queries. Results are recomputed from the
// store on every call so role edits apply immediately to every holder.
type Authorizer struct {
	reader   Reader
	observer DecisionObserver
}

// NewAuthorizer builds an Authorizer over reader. observer may be nil.
func NewAuthorizer(reader Reader, observer DecisionObserver) *Authorizer {
	return &Authorizer{reader: reader, observer: observer}
}

// EffectivePermissions returns the union of permissions across the user's
// roles. Inactive users resolve to the empty set.
func (a *Authorizer) EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	user, err := a.reader.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return PermissionSet{}, nil
	}
	roles, err := a.reader.RolesOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return unionOf(roles), nil
}

// HasPermission reports whether perm is among the user's effective
// permissions. Unknown users and unknown permissions resolve to false; only
// store failures are returned as errors.
func (a *Authorizer) HasPermission(ctx context.Context, userID int64, perm PermissionID) (bool, error) {
	granted, err := a.EffectivePermissions(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.observe("permission", string(perm), false)
			return false, nil
		}
		return false, err
	}
	ok := granted.Has(perm)
	a.observe("permission", string(perm), ok)
	return ok, nil
}

// HasRole reports whether an active user holds a role named roleName.
// Names compare case-insensitively.
func (a *Authorizer) HasRole(ctx context.Context, userID int64, roleName string) (bool, error) {
	user, err := a.reader.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.observe("role", roleName, false)
			return false, nil
		}
		return false, err
	}
	if !user.IsActive {
		a.observe("role", roleName, false)
		return false, nil
	}
	roles, err := a.reader.RolesOfUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if SameName(role.Name, roleName) {
			a.observe("role", roleName, true)
			return true, nil
		}
	}
	a.observe("role", roleName, false)
	return false, nil
}

// HasAny reports whether the user holds at least one of perms. An empty
// requirement is always satisfied.
func (a *Authorizer) HasAny(ctx context.Context, userID int64, perms ...PermissionID) (bool, error) {
	if len(perms) == 0 {
		return true, nil
	}
	granted, err := a.grantedOrEmpty(ctx, userID)
	if err != nil {
		return false, err
	}
	ok := hasAnyPermission(granted, perms)
	a.observe("any", joinPermissions(perms), ok)
	return ok, nil
}

// HasAll reports whether the user holds every permission in perms.
func (a *Authorizer) HasAll(ctx context.Context, userID int64, perms ...PermissionID) (bool, error) {
	if len(perms) == 0 {
		return true, nil
	}
	granted, err := a.grantedOrEmpty(ctx, userID)
	if err != nil {
		return false, err
	}
	ok := hasAllPermissions(granted, perms)
	a.observe("all", joinPermissions(perms), ok)
	return ok, nil
}

func (a *Authorizer) grantedOrEmpty(ctx context.Context, userID int64) (PermissionSet, error) {
	granted, err := a.EffectivePermissions(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return PermissionSet{}, nil
	}
	return granted, err
}

func (a *Authorizer) observe(kind, subject string, granted bool) {
	if a.observer != nil {
		a.observer.ObserveDecision(kind, subject, granted)
	}
}

func unionOf(roles []Role) PermissionSet {
	set := make(PermissionSet)
	for _, role := range roles {
		set.Union(role.Permissions)
	}
	return set
}

func hasAnyPermission(granted PermissionSet, required []PermissionID) bool {
	for _, p := range required {
		if granted.Has(p) {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted PermissionSet, required []PermissionID) bool {
	for _, p := range required {
		if !granted.Has(p) {
			return false
		}
	}
	return true
}

func joinPermissions(perms []PermissionID) string {
	out := ""
	for i, p := range perms {
		if i > 0 {
			out += ","
		}
		out += string(p)
	}
	return out
}
