package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/erp-auth/internal/model"
)

// PermissionRepo reads the permission catalog. Permissions are created
// by the seed process; at runtime only descriptions ever change.
type PermissionRepo struct{ DB *sql.DB }

func NewPermissionRepo(db *sql.DB) *PermissionRepo { return &PermissionRepo{DB: db} }

const permCols = "id, perm_key, resource, action, description, created_at"

// List returns all permissions ordered by resource then key, which
// gives the handler a stable grouping order.
func (r *PermissionRepo) List(ctx context.Context) ([]model.Permission, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+permCols+" FROM permissions ORDER BY resource, perm_key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Permission
	for rows.Next() {
		var p model.Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ExistingIDs reports which of the given permission ids are present.
// Callers use it to name the offending id when an assignment request
// references a permission that does not exist.
func (r *PermissionRepo) ExistingIDs(ctx context.Context, ids []uint64) (map[uint64]bool, error) {
	found := make(map[uint64]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id FROM permissions WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	return found, rows.Err()
}

// Ensure inserts any catalog permissions that are missing. Idempotent;
// existing rows are left untouched so edited descriptions survive.
func (r *PermissionRepo) Ensure(ctx context.Context, perms []model.Permission) error {
	for _, p := range perms {
		_, err := r.DB.ExecContext(ctx,
			"INSERT IGNORE INTO permissions (perm_key, resource, action, description) VALUES (?,?,?,?)",
			p.Key, p.Resource, p.Action, p.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

// IDsByKeys resolves permission keys to ids, used by the seed when
// granting the built-in roles their permission sets.
func (r *PermissionRepo) IDsByKeys(ctx context.Context, keys []string) ([]uint64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id FROM permissions WHERE perm_key IN ("+placeholders+") ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
