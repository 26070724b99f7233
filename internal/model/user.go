package model

import "time"

// User lifecycle statuses as stored in users.status.  Inactive is the
// soft-delete form; suspended accounts are blocked by an administrator
// but expected to return.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// User represents a row in the `users` table.  The email is stored
// lowercase and is unique.  PasswordHash holds a bcrypt digest; the
// plaintext never reaches the repository layer.  Every user references
// exactly one role.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique, lowercase-normalized email address.
//  PasswordHash – bcrypt hashed password.
//  FullName     – display name.
//  RoleID       – foreign key into the roles table.
//  Status       – one of active/inactive/suspended.
//  LastLoginAt  – when the user last logged in (null until first login).
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name"`
	RoleID       uint64     `json:"role_id"`
	Status       string     `json:"status"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UserWithRole is the joined shape returned by list and detail queries:
// the user row plus the name and key of its role.
type UserWithRole struct {
	User
	RoleName string `json:"role_name"`
	RoleKey  string `json:"role_key"`
}

// ValidStatus reports whether s is one of the recognized lifecycle values.
func ValidStatus(s string) bool {
	return s == StatusActive || s == StatusInactive || s == StatusSuspended
}
