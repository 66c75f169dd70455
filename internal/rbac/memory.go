package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableRoles     = "roles"
	tableUsers     = "users"
	tableUserRoles = "user_roles"
)

type roleRecord struct {
	ID   int64
	Key  string
	Role Role
}

type userRecord struct {
	ID          int64
	UsernameKey string
	EmailKey    string
	User        User
}

type userRoleRecord struct {
	UserID int64
	RoleID int64
}

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableRoles: {
				Name: tableRoles,
				Indexes: map[string]*memdb.IndexSchema{
					"id":   {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"name": {Name: "name", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Key"}},
				},
			},
			tableUsers: {
				Name: tableUsers,
				Indexes: map[string]*memdb.IndexSchema{
					"id":       {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"username": {Name: "username", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "UsernameKey"}},
					"email":    {Name: "email", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "EmailKey"}},
				},
			},
			tableUserRoles: {
				Name: tableUserRoles,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.IntFieldIndex{Field: "UserID"},
							&memdb.IntFieldIndex{Field: "RoleID"},
						}},
					},
					"user": {Name: "user", Indexer: &memdb.IntFieldIndex{Field: "UserID"}},
					"role": {Name: "role", Indexer: &memdb.IntFieldIndex{Field: "RoleID"}},
				},
			},
		},
	}
}

// MemoryRepository is an in-process Store backed by go-memdb. Write
// transactions are single-writer, which serializes guarded mutations.
type MemoryRepository struct {
	db         *memdb.MemDB
	nextRoleID atomic.Int64
	nextUserID atomic.Int64
	now        func() time.Time
}

// NewMemoryRepository constructs an empty in-memory store.
func NewMemoryRepository() (*MemoryRepository, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("rbac: memdb: %w", err)
	}
	return &MemoryRepository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// WithTx runs fn in a write transaction, committing only when fn returns nil.
func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	txn := m.db.Txn(true)
	defer txn.Abort()
	if err := fn(ctx, &memTx{repo: m, txn: txn}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *MemoryRepository) snapshot() *memTx {
	return &memTx{repo: m, txn: m.db.Txn(false)}
}

func (m *MemoryRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	return m.snapshot().GetRole(ctx, id)
}

func (m *MemoryRepository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return m.snapshot().GetRoleByName(ctx, name)
}

func (m *MemoryRepository) ListRoles(ctx context.Context) ([]Role, error) {
	return m.snapshot().ListRoles(ctx)
}

func (m *MemoryRepository) RoleUserCounts(ctx context.Context) (map[int64]int, error) {
	return m.snapshot().RoleUserCounts(ctx)
}

func (m *MemoryRepository) GetUser(ctx context.Context, id int64) (User, error) {
	return m.snapshot().GetUser(ctx, id)
}

func (m *MemoryRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return m.snapshot().GetUserByUsername(ctx, username)
}

func (m *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return m.snapshot().GetUserByEmail(ctx, email)
}

func (m *MemoryRepository) ListUsers(ctx context.Context, filter UserFilter) ([]User, error) {
	return m.snapshot().ListUsers(ctx, filter)
}

func (m *MemoryRepository) RolesOfUser(ctx context.Context, userID int64) ([]Role, error) {
	return m.snapshot().RolesOfUser(ctx, userID)
}

func (m *MemoryRepository) CountActiveHolders(ctx context.Context, perm PermissionID) (int, error) {
	return m.snapshot().CountActiveHolders(ctx, perm)
}

type memTx struct {
	repo *MemoryRepository
	txn  *memdb.Txn
}

// LockGuard is a no-op: memdb admits a single writer at a time.
func (t *memTx) LockGuard(context.Context) error { return nil }

func (t *memTx) GetRole(_ context.Context, id int64) (Role, error) {
	rec, err := t.roleByID(id)
	if err != nil {
		return Role{}, err
	}
	return cloneRole(rec.Role), nil
}

func (t *memTx) GetRoleByName(_ context.Context, name string) (Role, error) {
	raw, err := t.txn.First(tableRoles, "name", NormalizeName(name))
	if err != nil {
		return Role{}, err
	}
	if raw == nil {
		return Role{}, RoleNotFound(name)
	}
	return cloneRole(raw.(*roleRecord).Role), nil
}

func (t *memTx) ListRoles(context.Context) ([]Role, error) {
	it, err := t.txn.Get(tableRoles, "id")
	if err != nil {
		return nil, err
	}
	var roles []Role
	for raw := it.Next(); raw != nil; raw = it.Next() {
		roles = append(roles, cloneRole(raw.(*roleRecord).Role))
	}
	sortRolesByName(roles)
	return roles, nil
}

func (t *memTx) RoleUserCounts(context.Context) (map[int64]int, error) {
	it, err := t.txn.Get(tableUserRoles, "id")
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		counts[raw.(*userRoleRecord).RoleID]++
	}
	return counts, nil
}

func (t *memTx) GetUser(_ context.Context, id int64) (User, error) {
	rec, err := t.userByID(id)
	if err != nil {
		return User{}, err
	}
	return rec.User, nil
}

func (t *memTx) GetUserByUsername(_ context.Context, username string) (User, error) {
	raw, err := t.txn.First(tableUsers, "username", NormalizeName(username))
	if err != nil {
		return User{}, err
	}
	if raw == nil {
		return User{}, UserNotFound(username)
	}
	return raw.(*userRecord).User, nil
}

func (t *memTx) GetUserByEmail(_ context.Context, email string) (User, error) {
	raw, err := t.txn.First(tableUsers, "email", NormalizeName(email))
	if err != nil {
		return User{}, err
	}
	if raw == nil {
		return User{}, UserNotFound(email)
	}
	return raw.(*userRecord).User, nil
}

func (t *memTx) ListUsers(_ context.Context, filter UserFilter) ([]User, error) {
	it, err := t.txn.Get(tableUsers, "id")
	if err != nil {
		return nil, err
	}
	search := NormalizeName(filter.Search)
	var users []User
	for raw := it.Next(); raw != nil; raw = it.Next() {
		u := raw.(*userRecord).User
		if filter.ActiveOnly && !u.IsActive {
			continue
		}
		if search != "" && !matchesSearch(u, search) {
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (t *memTx) RolesOfUser(_ context.Context, userID int64) ([]Role, error) {
	ids, err := t.roleIDsOf(userID)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(ids))
	for _, id := range ids {
		rec, err := t.roleByID(id)
		if err != nil {
			return nil, err
		}
		roles = append(roles, cloneRole(rec.Role))
	}
	sortRolesByName(roles)
	return roles, nil
}

func (t *memTx) CountActiveHolders(ctx context.Context, perm PermissionID) (int, error) {
	users, err := t.ListUsers(ctx, UserFilter{ActiveOnly: true})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, u := range users {
		roles, err := t.RolesOfUser(ctx, u.ID)
		if err != nil {
			return 0, err
		}
		if unionOf(roles).Has(perm) {
			count++
		}
	}
	return count, nil
}

func (t *memTx) InsertRole(_ context.Context, role Role) (Role, error) {
	key := NormalizeName(role.Name)
	if err := t.ensureRoleNameFree(key, 0, role.Name); err != nil {
		return Role{}, err
	}
	now := t.repo.now()
	role.ID = t.repo.nextRoleID.Add(1)
	role.Permissions = role.Permissions.Clone()
	role.CreatedAt, role.UpdatedAt = now, now
	if err := t.txn.Insert(tableRoles, &roleRecord{ID: role.ID, Key: key, Role: role}); err != nil {
		return Role{}, err
	}
	return cloneRole(role), nil
}

func (t *memTx) UpdateRole(_ context.Context, role Role) (Role, error) {
	existing, err := t.roleByID(role.ID)
	if err != nil {
		return Role{}, err
	}
	key := NormalizeName(role.Name)
	if err := t.ensureRoleNameFree(key, role.ID, role.Name); err != nil {
		return Role{}, err
	}
	role.Permissions = role.Permissions.Clone()
	role.CreatedAt = existing.Role.CreatedAt
	role.UpdatedAt = t.repo.now()
	if err := t.txn.Insert(tableRoles, &roleRecord{ID: role.ID, Key: key, Role: role}); err != nil {
		return Role{}, err
	}
	return cloneRole(role), nil
}

func (t *memTx) DeleteRole(_ context.Context, id int64) error {
	rec, err := t.roleByID(id)
	if err != nil {
		return err
	}
	if _, err := t.txn.DeleteAll(tableUserRoles, "role", id); err != nil {
		return err
	}
	return t.txn.Delete(tableRoles, rec)
}

func (t *memTx) InsertUser(_ context.Context, user User) (User, error) {
	rec := &userRecord{UsernameKey: NormalizeName(user.Username), EmailKey: NormalizeName(user.Email)}
	if err := t.ensureUserFree(rec, user); err != nil {
		return User{}, err
	}
	now := t.repo.now()
	user.ID = t.repo.nextUserID.Add(1)
	user.CreatedAt, user.UpdatedAt = now, now
	rec.ID, rec.User = user.ID, user
	if err := t.txn.Insert(tableUsers, rec); err != nil {
		return User{}, err
	}
	return user, nil
}

func (t *memTx) UpdateUser(_ context.Context, user User) (User, error) {
	existing, err := t.userByID(user.ID)
	if err != nil {
		return User{}, err
	}
	rec := &userRecord{ID: user.ID, UsernameKey: NormalizeName(user.Username), EmailKey: NormalizeName(user.Email)}
	if err := t.ensureUserFree(rec, user); err != nil {
		return User{}, err
	}
	user.CreatedAt = existing.User.CreatedAt
	user.UpdatedAt = t.repo.now()
	rec.User = user
	if err := t.txn.Insert(tableUsers, rec); err != nil {
		return User{}, err
	}
	return user, nil
}

func (t *memTx) DeleteUser(_ context.Context, id int64) error {
	rec, err := t.userByID(id)
	if err != nil {
		return err
	}
	if _, err := t.txn.DeleteAll(tableUserRoles, "user", id); err != nil {
		return err
	}
	return t.txn.Delete(tableUsers, rec)
}

func (t *memTx) AddUserRole(_ context.Context, userID, roleID int64) (bool, error) {
	if _, err := t.userByID(userID); err != nil {
		return false, err
	}
	if _, err := t.roleByID(roleID); err != nil {
		return false, err
	}
	raw, err := t.txn.First(tableUserRoles, "id", userID, roleID)
	if err != nil {
		return false, err
	}
	if raw != nil {
		return false, nil
	}
	if err := t.txn.Insert(tableUserRoles, &userRoleRecord{UserID: userID, RoleID: roleID}); err != nil {
		return false, err
	}
	return true, nil
}

func (t *memTx) RemoveUserRole(_ context.Context, userID, roleID int64) (bool, error) {
	raw, err := t.txn.First(tableUserRoles, "id", userID, roleID)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := t.txn.Delete(tableUserRoles, raw); err != nil {
		return false, err
	}
	return true, nil
}

func (t *memTx) roleByID(id int64) (*roleRecord, error) {
	raw, err := t.txn.First(tableRoles, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, RoleNotFound(id)
	}
	return raw.(*roleRecord), nil
}

func (t *memTx) userByID(id int64) (*userRecord, error) {
	raw, err := t.txn.First(tableUsers, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, UserNotFound(id)
	}
	return raw.(*userRecord), nil
}

func (t *memTx) roleIDsOf(userID int64) ([]int64, error) {
	it, err := t.txn.Get(tableUserRoles, "user", userID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for raw := it.Next(); raw != nil; raw = it.Next() {
		ids = append(ids, raw.(*userRoleRecord).RoleID)
	}
	return ids, nil
}

func (t *memTx) ensureRoleNameFree(key string, selfID int64, name string) error {
	raw, err := t.txn.First(tableRoles, "name", key)
	if err != nil {
		return err
	}
	if raw != nil && raw.(*roleRecord).ID != selfID {
		return &DuplicateNameError{Entity: "role", Field: "name", Value: name}
	}
	return nil
}

func (t *memTx) ensureUserFree(rec *userRecord, user User) error {
	raw, err := t.txn.First(tableUsers, "username", rec.UsernameKey)
	if err != nil {
		return err
	}
	if raw != nil && raw.(*userRecord).ID != rec.ID {
		return &DuplicateNameError{Entity: "user", Field: "username", Value: user.Username}
	}
	raw, err = t.txn.First(tableUsers, "email", rec.EmailKey)
	if err != nil {
		return err
	}
	if raw != nil && raw.(*userRecord).ID != rec.ID {
		return &DuplicateNameError{Entity: "user", Field: "email", Value: user.Email}
	}
	return nil
}

func cloneRole(r Role) Role {
	r.Permissions = r.Permissions.Clone()
	return r
}

func sortRolesByName(roles []Role) {
	sort.Slice(roles, func(i, j int) bool {
		return NormalizeName(roles[i].Name) < NormalizeName(roles[j].Name)
	})
}

func matchesSearch(u User, folded string) bool {
	for _, field := range []string{u.Username, u.Email, u.FirstName, u.LastName} {
		if strings.Contains(NormalizeName(field), folded) {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryRepository)(nil)
