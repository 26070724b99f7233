package model

import "time"

// Permission represents a row in the `permissions` table: an atomic
// capability identified by a unique key of the form "<resource>.<action>".
// Only the description is mutable once a permission exists.
type Permission struct {
	ID          uint64    `json:"id"`
	Key         string    `json:"key"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// RolePermission is the many-to-many join between roles and
// permissions.  A (role, permission) pair is unique; these rows are
// the sole source of truth for what a role can do.
type RolePermission struct {
	RoleID       uint64 `json:"role_id"`
	PermissionID uint64 `json:"permission_id"`
}
