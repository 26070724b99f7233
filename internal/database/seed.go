package database

import (
	"context"
	"database/sql"
	"log"

	"github.com/iliyamo/erp-auth/internal/model"
	"github.com/iliyamo/erp-auth/internal/repository"
)

// Catalog of permissions over the business resources. Only the view
// action is modeled today; keys carry the action suffix so the
// vocabulary can grow without a migration.
var builtinPermissions = []model.Permission{
	{Key: "dashboard.view", Resource: "dashboard", Action: "view", Description: "View the dashboard"},
	{Key: "customers.view", Resource: "customers", Action: "view", Description: "View customers"},
	{Key: "products.view", Resource: "products", Action: "view", Description: "View products"},
	{Key: "inquiries.view", Resource: "inquiries", Action: "view", Description: "View inquiries"},
	{Key: "pricing.view", Resource: "pricing", Action: "view", Description: "View pricing"},
	{Key: "suppliers.view", Resource: "suppliers", Action: "view", Description: "View suppliers"},
	{Key: "reports.view", Resource: "reports", Action: "view", Description: "View reports"},
	{Key: "users.view", Resource: "users", Action: "view", Description: "Manage users"},
	{Key: "roles.view", Resource: "roles", Action: "view", Description: "Manage roles and permissions"},
}

// staffPermissionKeys is the minimal grant for the built-in staff role.
var staffPermissionKeys = []string{"dashboard.view"}

// Seed makes the store usable on first boot and is idempotent on every
// later one: it ensures the permission catalog, the built-in admin and
// staff roles (admin holding every permission), and, when no active
// administrator exists yet, an initial admin user from the provided
// credentials.
func Seed(ctx context.Context, db *sql.DB, adminEmail, adminPassword string, bcryptCost int) error {
	perms := repository.NewPermissionRepo(db)
	roles := repository.NewRoleRepo(db)
	users := repository.NewUserRepo(db)

	if err := perms.Ensure(ctx, builtinPermissions); err != nil {
		return err
	}

	adminRole, err := ensureRole(ctx, db, roles, "Administrator", model.AdminRoleKey, "Unrestricted access to every resource")
	if err != nil {
		return err
	}
	staffRole, err := ensureRole(ctx, db, roles, "Staff", "staff", "Day-to-day access")
	if err != nil {
		return err
	}

	allKeys := make([]string, len(builtinPermissions))
	for i, p := range builtinPermissions {
		allKeys[i] = p.Key
	}
	if err := grantMissing(ctx, perms, roles, adminRole.ID, allKeys); err != nil {
		return err
	}
	if err := grantMissing(ctx, perms, roles, staffRole.ID, staffPermissionKeys); err != nil {
		return err
	}

	// First admin user, only when nobody holds the admin role yet.
	n, err := users.CountActiveByRoleKey(ctx, model.AdminRoleKey)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if adminEmail == "" || adminPassword == "" {
		log.Printf("seed: no active administrator and no ADMIN_EMAIL/ADMIN_PASSWORD set; user management endpoints are unreachable until one is created")
		return nil
	}
	_, err = users.Create(ctx, adminEmail, adminPassword, "Administrator", adminRole.ID, model.StatusActive, bcryptCost)
	if err == repository.ErrEmailExists {
		// The email exists under a non-admin role; leave it alone.
		log.Printf("seed: ADMIN_EMAIL already registered, skipping admin creation")
		return nil
	}
	return err
}

func ensureRole(ctx context.Context, db *sql.DB, roles *repository.RoleRepo, name, key, description string) (model.Role, error) {
	role, err := roles.GetByKey(ctx, key)
	if err == nil {
		return role, nil
	}
	if err != repository.ErrNotFound {
		return model.Role{}, err
	}
	id, err := roles.Create(ctx, name, key, description)
	if err != nil {
		return model.Role{}, err
	}
	// Seeded roles are built-in: immutable and undeletable afterwards.
	if _, err := db.ExecContext(ctx, "UPDATE roles SET is_built_in=1 WHERE id=?", id); err != nil {
		return model.Role{}, err
	}
	return roles.GetByID(ctx, id)
}

// grantMissing inserts any (role, permission) rows that are absent
// without touching existing ones, so operator edits to custom grants
// survive restarts.
func grantMissing(ctx context.Context, perms *repository.PermissionRepo, roles *repository.RoleRepo, roleID uint64, keys []string) error {
	ids, err := perms.IDsByKeys(ctx, keys)
	if err != nil {
		return err
	}
	for _, pid := range ids {
		if _, err := roles.DB.ExecContext(ctx,
			"INSERT IGNORE INTO role_permissions (role_id, permission_id) VALUES (?,?)", roleID, pid); err != nil {
			return err
		}
	}
	return nil
}
