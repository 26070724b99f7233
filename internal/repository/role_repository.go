package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/erp-auth/internal/model"
)

// RoleRepo persists roles and their permission assignments.
type RoleRepo struct{ DB *sql.DB }

func NewRoleRepo(db *sql.DB) *RoleRepo { return &RoleRepo{DB: db} }

const roleCols = "id, name, role_key, description, is_built_in, created_at, updated_at"

// Create inserts a role and returns its ID.
func (r *RoleRepo) Create(ctx context.Context, name, key, description string) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO roles (name, role_key, description) VALUES (?,?,?)",
		name, key, description)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByID fetches a role by id.
func (r *RoleRepo) GetByID(ctx context.Context, id uint64) (model.Role, error) {
	var role model.Role
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+roleCols+" FROM roles WHERE id=? LIMIT 1", id).
		Scan(&role.ID, &role.Name, &role.Key, &role.Description, &role.IsBuiltIn, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return role, ErrNotFound
	}
	return role, err
}

// GetByKey fetches a role by its machine key.
func (r *RoleRepo) GetByKey(ctx context.Context, key string) (model.Role, error) {
	var role model.Role
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+roleCols+" FROM roles WHERE role_key=? LIMIT 1", key).
		Scan(&role.ID, &role.Name, &role.Key, &role.Description, &role.IsBuiltIn, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return role, ErrNotFound
	}
	return role, err
}

// List returns all roles with their permission and assigned-user counts.
func (r *RoleRepo) List(ctx context.Context) ([]model.RoleWithCounts, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT r.id, r.name, r.role_key, r.description, r.is_built_in, r.created_at, r.updated_at,
		       (SELECT COUNT(*) FROM role_permissions rp WHERE rp.role_id=r.id),
		       (SELECT COUNT(*) FROM users u WHERE u.role_id=r.id)
		FROM roles r ORDER BY r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RoleWithCounts
	for rows.Next() {
		var role model.RoleWithCounts
		if err := rows.Scan(&role.ID, &role.Name, &role.Key, &role.Description, &role.IsBuiltIn,
			&role.CreatedAt, &role.UpdatedAt, &role.PermissionCount, &role.UserCount); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// Update rewrites name and description. Built-in protection is
// enforced by the caller before any mutation is attempted.
func (r *RoleRepo) Update(ctx context.Context, id uint64, name, description string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE roles SET name=?, description=? WHERE id=?", name, description, id)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "1062") {
		return ErrDuplicate
	}
	return err
}

// Delete removes a role. role_permissions rows cascade; the users FK
// is RESTRICT so a raced assignment still cannot orphan anyone.
func (r *RoleRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM roles WHERE id=?", id)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1451") {
			return ErrRoleInUse
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers returns how many users reference the role.
func (r *RoleRepo) CountUsers(ctx context.Context, id uint64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE role_id=?", id).Scan(&n)
	return n, err
}

// PermissionKeys returns the permission keys granted to a role, sorted
// for stable token snapshots.
func (r *RoleRepo) PermissionKeys(ctx context.Context, roleID uint64) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT p.perm_key FROM role_permissions rp
		JOIN permissions p ON p.id=rp.permission_id
		WHERE rp.role_id=? ORDER BY p.perm_key`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ReplacePermissions atomically swaps the role's permission set for the
// given ids. Delete-then-insert runs inside one transaction so a
// concurrent reader never observes a half-assigned role.
func (r *RoleRepo) ReplacePermissions(ctx context.Context, roleID uint64, permissionIDs []uint64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM role_permissions WHERE role_id=?", roleID); err != nil {
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO role_permissions (role_id, permission_id) VALUES (?,?)", roleID, pid); err != nil {
			return err
		}
	}
	return tx.Commit()
}
