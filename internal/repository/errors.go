// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios; for
// example ErrRoleInUse signals that a role cannot be deleted because
// users still reference it.
package repository

import "errors"

// ErrNotFound is returned when a referenced entity does not exist.
// Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrRoleInUse is returned when a role deletion cannot proceed
// because users still reference the role. Handlers should translate
// this into an HTTP 409 response that reports the user count.
var ErrRoleInUse = errors.New("role still assigned to users")

// ErrDuplicate is returned when a uniqueness constraint would be
// violated, such as a role name or key collision. Handlers should
// translate this into an HTTP 409 response.
var ErrDuplicate = errors.New("duplicate value")
