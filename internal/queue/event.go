// Package queue defines message payloads exchanged over the message broker.
package queue

// Audit event types published by the auth core.
const (
	EventLogin       = "auth.login"
	EventLoginFailed = "auth.login_failed"
	EventRefresh     = "auth.refresh"
	EventLogout      = "auth.logout"
	EventDenied      = "auth.denied"
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
	EventRoleCreated = "role.created"
	EventRoleUpdated = "role.updated"
	EventRoleDeleted = "role.deleted"
	EventRoleRegrant = "role.permissions_replaced"
)

// AuthEvent is published for every security-relevant action: logins
// (successful and failed), token rotations, logouts, authorization
// denials, and administrative mutations of users and roles. It carries
// enough for downstream consumers to build an audit trail without
// querying the primary database.
type AuthEvent struct {
	Type       string `json:"type"`
	ActorID    uint64 `json:"actor_id,omitempty"`
	ActorEmail string `json:"actor_email,omitempty"`
	ActorRole  string `json:"actor_role,omitempty"`
	TargetID   uint64 `json:"target_id,omitempty"`
	Resource   string `json:"resource,omitempty"`
	Detail     string `json:"detail,omitempty"`
	IP         string `json:"ip,omitempty"`
	At         string `json:"at"`
}
