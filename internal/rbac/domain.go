package rbac

import (
	"sort"
	"time"
)

// PermissionID identifies an atomic capability. Values are validated with
// ParsePermissionID and checked against the Registry before they are stored.
type PermissionID string

// Permission represents an atomic capability.
type Permission struct {
	ID          PermissionID `json:"id" yaml:"id"`
	Description string       `json:"description" yaml:"description"`
}

// PermissionSet is an unordered set of permission identifiers.
type PermissionSet map[PermissionID]struct{}

// NewPermissionSet builds a set from the provided identifiers.
func NewPermissionSet(ids ...PermissionID) PermissionSet {
	set := make(PermissionSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether id is part of the set.
func (s PermissionSet) Has(id PermissionID) bool {
	_, ok := s[id]
	return ok
}

// Union adds every identifier of other to s.
func (s PermissionSet) Union(other PermissionSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	out.Union(s)
	return out
}

// Sorted returns identifiers in lexical order.
func (s PermissionSet) Sorted() []PermissionID {
	ids := make([]PermissionID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Role represents a named, mutable bundle of permissions.
type Role struct {
	ID          int64
	Name        string
	Description string
	Permissions PermissionSet
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleSummary pairs a role with the number of users currently holding it.
type RoleSummary struct {
	Role
	UserCount int
}

// User is the account record. Role membership is kept in the association
// table and never embedded here.
type User struct {
	ID           int64
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FullName joins first and last name.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// UserFilter narrows ListUsers results.
type UserFilter struct {
	Search     string
	ActiveOnly bool
}
