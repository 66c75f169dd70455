package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/gatekeeper/internal/platform/db"
)

// guardLockKey is the advisory lock taken by guarded mutations.
const guardLockKey int64 = 0x72626163 // "rbac"

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Store using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	pgQueries
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, pgQueries: pgQueries{q: pool}}
}

// WithTx wraps fn in a read-committed transaction. Guarded mutations read
// after LockGuard, so each statement must see rows committed by the previous
// lock holder; a repeatable-read snapshot taken before the lock would not.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{pgQueries{q: tx}})
	})
}

// SyncPermissions upserts the catalog into the permissions table so
// role_permissions can reference it.
func (r *PGRepository) SyncPermissions(ctx context.Context, perms []Permission) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, p := range perms {
			if _, err := tx.Exec(ctx, `INSERT INTO permissions (id, description) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET description = EXCLUDED.description`, string(p.ID), p.Description); err != nil {
				return fmt.Errorf("rbac: sync permission %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

type pgTx struct {
	pgQueries
}

func (t *pgTx) LockGuard(ctx context.Context) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, guardLockKey)
	return err
}

const roleColumns = `r.id, r.name, r.description, r.created_at, r.updated_at,
	COALESCE(array_agg(rp.permission_id ORDER BY rp.permission_id) FILTER (WHERE rp.permission_id IS NOT NULL), '{}')`

const userColumns = `id, username, email, first_name, last_name, password_hash, is_active, created_at, updated_at`

type pgQueries struct {
	q querier
}

func (p pgQueries) GetRole(ctx context.Context, id int64) (Role, error) {
	row := p.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE r.id = $1 GROUP BY r.id`, id)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, RoleNotFound(id)
	}
	return role, err
}

func (p pgQueries) GetRoleByName(ctx context.Context, name string) (Role, error) {
	row := p.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE r.name_key = $1 GROUP BY r.id`, NormalizeName(name))
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, RoleNotFound(name)
	}
	return role, err
}

func (p pgQueries) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := p.q.Query(ctx, `SELECT `+roleColumns+` FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		GROUP BY r.id ORDER BY r.name_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (p pgQueries) RoleUserCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := p.q.Query(ctx, `SELECT r.id, COUNT(ur.user_id) FROM roles r
		LEFT JOIN user_roles ur ON ur.role_id = r.id GROUP BY r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[int64]int)
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = int(n)
	}
	return counts, rows.Err()
}

func (p pgQueries) GetUser(ctx context.Context, id int64) (User, error) {
	user, err := scanUser(p.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, UserNotFound(id)
	}
	return user, err
}

func (p pgQueries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	user, err := scanUser(p.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username_key = $1`, NormalizeName(username)))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, UserNotFound(username)
	}
	return user, err
}

func (p pgQueries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(p.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email_key = $1`, NormalizeName(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, UserNotFound(email)
	}
	return user, err
}

func (p pgQueries) ListUsers(ctx context.Context, filter UserFilter) ([]User, error) {
	rows, err := p.q.Query(ctx, `SELECT `+userColumns+` FROM users
		WHERE ($1 = '' OR username ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'
			OR first_name ILIKE '%' || $1 || '%' OR last_name ILIKE '%' || $1 || '%')
		AND (NOT $2 OR is_active)
		ORDER BY id`, filter.Search, filter.ActiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (p pgQueries) RolesOfUser(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := p.q.Query(ctx, `SELECT `+roleColumns+` FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE ur.user_id = $1
		GROUP BY r.id ORDER BY r.name_key`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (p pgQueries) CountActiveHolders(ctx context.Context, perm PermissionID) (int, error) {
	var n int64
	err := p.q.QueryRow(ctx, `SELECT COUNT(DISTINCT u.id) FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		WHERE u.is_active AND rp.permission_id = $1`, string(perm)).Scan(&n)
	return int(n), err
}

func (t *pgTx) InsertRole(ctx context.Context, role Role) (Role, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO roles (name, name_key, description, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW()) RETURNING id`, role.Name, NormalizeName(role.Name), role.Description).Scan(&id)
	if err != nil {
		return Role{}, mapRoleError(err, role.Name)
	}
	if err := t.replaceRolePermissions(ctx, id, role.Permissions); err != nil {
		return Role{}, err
	}
	return t.GetRole(ctx, id)
}

func (t *pgTx) UpdateRole(ctx context.Context, role Role) (Role, error) {
	tag, err := t.q.Exec(ctx, `UPDATE roles SET name = $2, name_key = $3, description = $4, updated_at = NOW() WHERE id = $1`,
		role.ID, role.Name, NormalizeName(role.Name), role.Description)
	if err != nil {
		return Role{}, mapRoleError(err, role.Name)
	}
	if tag.RowsAffected() == 0 {
		return Role{}, RoleNotFound(role.ID)
	}
	if err := t.replaceRolePermissions(ctx, role.ID, role.Permissions); err != nil {
		return Role{}, err
	}
	return t.GetRole(ctx, role.ID)
}

func (t *pgTx) DeleteRole(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return RoleNotFound(id)
	}
	return nil
}

func (t *pgTx) replaceRolePermissions(ctx context.Context, roleID int64, perms PermissionSet) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	if len(perms) == 0 {
		return nil
	}
	ids := make([]string, 0, len(perms))
	for _, p := range perms.Sorted() {
		ids = append(ids, string(p))
	}
	_, err := t.q.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::text[])`, roleID, ids)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, pgErr.Detail)
		}
		return err
	}
	return nil
}

func (t *pgTx) InsertUser(ctx context.Context, user User) (User, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO users (username, username_key, email, email_key, first_name, last_name, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW()) RETURNING `+userColumns,
		user.Username, NormalizeName(user.Username), user.Email, NormalizeName(user.Email),
		user.FirstName, user.LastName, user.PasswordHash, user.IsActive)
	created, err := scanUser(row)
	if err != nil {
		return User{}, mapUserError(err, user)
	}
	return created, nil
}

func (t *pgTx) UpdateUser(ctx context.Context, user User) (User, error) {
	row := t.q.QueryRow(ctx, `UPDATE users SET username = $2, username_key = $3, email = $4, email_key = $5,
		first_name = $6, last_name = $7, password_hash = $8, is_active = $9, updated_at = NOW()
		WHERE id = $1 RETURNING `+userColumns,
		user.ID, user.Username, NormalizeName(user.Username), user.Email, NormalizeName(user.Email),
		user.FirstName, user.LastName, user.PasswordHash, user.IsActive)
	updated, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, UserNotFound(user.ID)
		}
		return User{}, mapUserError(err, user)
	}
	return updated, nil
}

func (t *pgTx) DeleteUser(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return UserNotFound(id)
	}
	return nil
}

func (t *pgTx) AddUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	if _, err := t.GetUser(ctx, userID); err != nil {
		return false, err
	}
	if _, err := t.GetRole(ctx, roleID); err != nil {
		return false, err
	}
	tag, err := t.q.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) RemoveUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var (
		role  Role
		perms []string
	)
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt, &perms); err != nil {
		return Role{}, err
	}
	role.Permissions = make(PermissionSet, len(perms))
	for _, p := range perms {
		role.Permissions[PermissionID(p)] = struct{}{}
	}
	role.CreatedAt = safeTime(role.CreatedAt)
	role.UpdatedAt = safeTime(role.UpdatedAt)
	return role, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func mapRoleError(err error, name string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &DuplicateNameError{Entity: "role", Field: "name", Value: name}
	}
	return err
}

func mapUserError(err error, user User) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "uq_users_email_key":
		return &DuplicateNameError{Entity: "user", Field: "email", Value: user.Email}
	default:
		return &DuplicateNameError{Entity: "user", Field: "username", Value: user.Username}
	}
}

func safeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}

var _ Store = (*PGRepository)(nil)
