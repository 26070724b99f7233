package model

import "time"

// AdminRoleKey identifies the unrestricted administrative role.  The
// seed process creates it with every permission and marks it built-in.
const AdminRoleKey = "admin"

// Role represents a row in the `roles` table.  Name is the display
// name shown to administrators; Key is the stable machine identifier
// embedded in access tokens.  Built-in roles are seeded by the system
// and reject renames, permission changes and deletion.
type Role struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Description string    `json:"description"`
	IsBuiltIn   bool      `json:"is_built_in"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleWithCounts augments a role with the number of permissions it
// grants and the number of users currently assigned to it.  Used by
// the role listing so the admin UI can warn before destructive edits.
type RoleWithCounts struct {
	Role
	PermissionCount int `json:"permission_count"`
	UserCount       int `json:"user_count"`
}
