package model

import "time"

// RefreshToken models an entry in the `refresh_tokens` table.  Each
// token belongs to a user and carries expiry and revocation metadata.
// The plain token value is never stored; only its SHA-256 hash.  A row
// is usable only while RevokedAt is null and ExpiresAt is in the
// future; rotation, logout and expiry all leave it permanently dead.
//
// Fields:
//  ID        – primary key identifier.
//  UserID    – owner of the token.
//  TokenHash – SHA-256 hex digest of the raw token value.
//  ExpiresAt – expiration timestamp of the token.
//  RevokedAt – when the token was revoked (null if still active).
//  CreatedAt – timestamp of creation.
type RefreshToken struct {
	ID        uint64     `json:"id"`
	UserID    uint64     `json:"user_id"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
