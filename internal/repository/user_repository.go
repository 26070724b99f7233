package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/erp-auth/internal/model"
	"github.com/iliyamo/erp-auth/internal/utils"
)

// UserRepo persists users and resolves their role at read time.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

var ErrEmailExists = errors.New("email already exists")

const userSelectCols = `u.id, u.email, u.password_hash, u.full_name, u.role_id, u.status,
	u.last_login_at, u.created_at, u.updated_at, r.name, r.role_key`

func scanUserWithRole(row *sql.Row) (model.UserWithRole, error) {
	var (
		u         model.UserWithRole
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.RoleID, &u.Status,
		&lastLogin, &u.CreatedAt, &u.UpdatedAt, &u.RoleName, &u.RoleKey)
	if err != nil {
		return u, err
	}
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return u, nil
}

// Create inserts a user and returns its ID. The password is bcrypt
// hashed here so plaintext never travels further than this call.
func (r *UserRepo) Create(ctx context.Context, email, password, fullName string, roleID uint64, status string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, full_name, role_id, status) VALUES (?,?,?,?,?)",
		email, hash, fullName, roleID, status)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user with its role by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.UserWithRole, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userSelectCols+" FROM users u JOIN roles r ON r.id=u.role_id WHERE u.email=? LIMIT 1",
		email)
	return scanUserWithRole(row)
}

// GetByID fetches a user with its role by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.UserWithRole, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userSelectCols+" FROM users u JOIN roles r ON r.id=u.role_id WHERE u.id=? LIMIT 1",
		id)
	return scanUserWithRole(row)
}

// List returns all users joined with their role, newest first.
func (r *UserRepo) List(ctx context.Context) ([]model.UserWithRole, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userSelectCols+" FROM users u JOIN roles r ON r.id=u.role_id ORDER BY u.id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UserWithRole
	for rows.Next() {
		var (
			u         model.UserWithRole
			lastLogin sql.NullTime
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.RoleID, &u.Status,
			&lastLogin, &u.CreatedAt, &u.UpdatedAt, &u.RoleName, &u.RoleKey); err != nil {
			return nil, err
		}
		if lastLogin.Valid {
			u.LastLoginAt = &lastLogin.Time
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Update rewrites the mutable profile columns of a user. Role and
// status are included; handlers enforce who may change them.
func (r *UserRepo) Update(ctx context.Context, id uint64, email, fullName string, roleID uint64, status string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET email=?, full_name=?, role_id=?, status=? WHERE id=?",
		email, fullName, roleID, status, id)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return ErrEmailExists
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Zero rows can also mean an identical update; verify existence.
		var exists uint64
		if err := r.DB.QueryRowContext(ctx, "SELECT id FROM users WHERE id=? LIMIT 1", id).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
	}
	return nil
}

// UpdatePassword re-hashes and stores a new password for the user.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, password string, cost int) error {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, "UPDATE users SET password_hash=? WHERE id=?", hash, id)
	return err
}

// SetStatus flips the lifecycle status of a user. Soft deletion is a
// SetStatus to inactive.
func (r *UserRepo) SetStatus(ctx context.Context, id uint64, status string) error {
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET status=? WHERE id=?", status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Zero rows also means the status was already set; verify existence.
		var exists uint64
		if err := r.DB.QueryRowContext(ctx, "SELECT id FROM users WHERE id=? LIMIT 1", id).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
	}
	return nil
}

// StampLastLogin records a successful login time.
func (r *UserRepo) StampLastLogin(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET last_login_at=NOW() WHERE id=?", id)
	return err
}

// CountActiveByRoleKey counts active users holding the given role key.
// Used for the last-admin protection before deletes and demotions.
func (r *UserRepo) CountActiveByRoleKey(ctx context.Context, roleKey string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users u JOIN roles r ON r.id=u.role_id WHERE r.role_key=? AND u.status=?",
		roleKey, model.StatusActive).Scan(&n)
	return n, err
}
