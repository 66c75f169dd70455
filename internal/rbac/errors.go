package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicateName indicates a uniqueness violation on a name-like field.
	ErrDuplicateName = errors.New("rbac: duplicate name")
	// ErrUnknownPermission indicates a permission id outside the registry.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrLastAdmin indicates the mutation would leave no active administrator.
	ErrLastAdmin = errors.New("rbac: last active administrator")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("rbac: validation failed")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	Key    any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rbac: %s %v not found", e.Entity, e.Key)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DuplicateNameError reports the field that collided.
type DuplicateNameError struct {
	Entity string
	Field  string
	Value  string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("rbac: %s %s %q already exists", e.Entity, e.Field, e.Value)
}

// Is matches ErrDuplicateName.
func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

// UnknownPermissionError reports the first permission id the registry rejected.
type UnknownPermissionError struct {
	ID string
}

func (e *UnknownPermissionError) Error() string {
	return fmt.Sprintf("rbac: unknown permission %q", e.ID)
}

// Is matches ErrUnknownPermission.
func (e *UnknownPermissionError) Is(target error) bool { return target == ErrUnknownPermission }

// LastAdminError is returned by the Guard when an operation would leave zero
// active users with administrative access.
type LastAdminError struct {
	Operation Operation
}

func (e *LastAdminError) Error() string {
	return fmt.Sprintf("rbac: %s would remove the last active administrator", e.Operation)
}

// Is matches ErrLastAdmin.
func (e *LastAdminError) Is(target error) bool { return target == ErrLastAdmin }

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rbac: %s %s", e.Field, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func notFound(entity string, key any) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// RoleNotFound builds a NotFoundError for a role key.
func RoleNotFound(key any) error { return notFound("role", key) }

// UserNotFound builds a NotFoundError for a user key.
func UserNotFound(key any) error { return notFound("user", key) }
