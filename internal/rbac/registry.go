package rbac

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Permissions referenced by the management surface.
const (
	PermAdminAccess PermissionID = "admin_access"
	PermRoleManage  PermissionID = "role_manage"
	PermUserView    PermissionID = "user_view"
	PermUserCreate  PermissionID = "user_create"
	PermUserEdit    PermissionID = "user_edit"
	PermUserDelete  PermissionID = "user_delete"
	PermAuditView   PermissionID = "audit_view"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

var permissionIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_.]{1,63}$`)

// ParsePermissionID validates the token format of raw.
func ParsePermissionID(raw string) (PermissionID, error) {
	raw = strings.TrimSpace(raw)
	if !permissionIDPattern.MatchString(raw) {
		return "", &UnknownPermissionError{ID: raw}
	}
	return PermissionID(raw), nil
}

// Registry is the closed permission catalog. It is immutable once built and
// safe for concurrent use.
type Registry struct {
	byID  map[PermissionID]Permission
	order []PermissionID
}

type catalogFile struct {
	Permissions []Permission `yaml:"permissions"`
}

// NewRegistry builds a registry from explicit entries.
func NewRegistry(perms ...Permission) (*Registry, error) {
	r := &Registry{byID: make(map[PermissionID]Permission, len(perms))}
	for _, p := range perms {
		if err := r.add(p); err != nil {
			return nil, err
		}
	}
	r.sort()
	return r, nil
}

// DefaultRegistry returns the embedded catalog.
func DefaultRegistry() *Registry {
	r, err := LoadRegistry("")
	if err != nil {
		panic(fmt.Sprintf("rbac: embedded catalog: %v", err))
	}
	return r
}

// LoadRegistry reads the embedded catalog and, when extraPath is set, a
// deployment catalog that may only add new permissions.
func LoadRegistry(extraPath string) (*Registry, error) {
	base, err := decodeCatalog(embeddedCatalog)
	if err != nil {
		return nil, fmt.Errorf("rbac: decode embedded catalog: %w", err)
	}
	r, err := NewRegistry(base...)
	if err != nil {
		return nil, err
	}
	if extraPath == "" {
		return r, nil
	}
	data, err := os.ReadFile(extraPath)
	if err != nil {
		return nil, fmt.Errorf("rbac: read catalog %s: %w", extraPath, err)
	}
	extra, err := decodeCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("rbac: decode catalog %s: %w", extraPath, err)
	}
	for _, p := range extra {
		if err := r.add(p); err != nil {
			return nil, err
		}
	}
	r.sort()
	return r, nil
}

func decodeCatalog(data []byte) ([]Permission, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Permissions, nil
}

func (r *Registry) add(p Permission) error {
	id, err := ParsePermissionID(string(p.ID))
	if err != nil {
		return fmt.Errorf("rbac: invalid permission id %q", p.ID)
	}
	p.ID = id
	p.Description = strings.TrimSpace(p.Description)
	if existing, ok := r.byID[id]; ok {
		if existing.Description != p.Description {
			return fmt.Errorf("rbac: permission %q redefined", id)
		}
		return nil
	}
	r.byID[id] = p
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) sort() {
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
}

// List returns all permissions ordered by id.
func (r *Registry) List() []Permission {
	out := make([]Permission, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the catalog size.
func (r *Registry) Len() int { return len(r.order) }

// Exists reports whether id is part of the catalog.
func (r *Registry) Exists(id PermissionID) bool {
	_, ok := r.byID[id]
	return ok
}

// Get returns the catalog entry for id.
func (r *Registry) Get(id PermissionID) (Permission, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Validate parses raw identifiers and checks each against the catalog.
// Duplicates collapse into a single entry.
func (r *Registry) Validate(raw []string) (PermissionSet, error) {
	set := make(PermissionSet, len(raw))
	for _, s := range raw {
		id, err := ParsePermissionID(s)
		if err != nil {
			return nil, err
		}
		if !r.Exists(id) {
			return nil, &UnknownPermissionError{ID: string(id)}
		}
		set[id] = struct{}{}
	}
	return set, nil
}
