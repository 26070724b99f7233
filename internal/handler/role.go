package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/erp-auth/internal/middleware"
	"github.com/iliyamo/erp-auth/internal/queue"
	"github.com/iliyamo/erp-auth/internal/repository"
	queue_publisher "github.com/iliyamo/erp-auth/internal/service"
)

// RoleHandler implements administrative CRUD over roles and their
// permission assignments. Built-in roles reject every mutation.
type RoleHandler struct {
	Roles *repository.RoleRepo
	Perms *repository.PermissionRepo
}

func NewRoleHandler(r *repository.RoleRepo, p *repository.PermissionRepo) *RoleHandler {
	return &RoleHandler{Roles: r, Perms: p}
}

type roleReq struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	Description string `json:"description"`
}

type replacePermsReq struct {
	PermissionIDs []uint64 `json:"permission_ids"`
}

// normalizeRoleKey lowercases and snake-cases a role key so "Sales Team"
// and "sales_team" cannot coexist as distinct keys.
func normalizeRoleKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.ReplaceAll(key, " ", "_")
}

// List handles GET /v1/roles.
func (h *RoleHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	roles, err := h.Roles.List(ctx)
	if err != nil {
		c.Logger().Errorf("roles: list failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not list roles"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": roles})
}

// Get handles GET /v1/roles/:id and includes the full permission key list.
func (h *RoleHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	role, err := h.Roles.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
		}
		c.Logger().Errorf("roles: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not load role"})
	}
	perms, err := h.Roles.PermissionKeys(ctx, id)
	if err != nil {
		c.Logger().Errorf("roles: load permissions failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not load role"})
	}
	return c.JSON(http.StatusOK, echo.Map{"role": role, "permissions": perms})
}

// Create handles POST /v1/roles.
func (h *RoleHandler) Create(c echo.Context) error {
	var req roleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Key = normalizeRoleKey(req.Key)

	fields := map[string]string{}
	if req.Name == "" {
		fields["name"] = "required"
	}
	if req.Key == "" {
		fields["key"] = "required"
	}
	if len(fields) > 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": fields})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := h.Roles.Create(ctx, req.Name, req.Key, strings.TrimSpace(req.Description))
	if err != nil {
		if err == repository.ErrDuplicate {
			return c.JSON(http.StatusConflict, echo.Map{"error": "role name or key already exists"})
		}
		c.Logger().Errorf("roles: create failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create role"})
	}
	role, err := h.Roles.GetByID(ctx, id)
	if err != nil {
		c.Logger().Errorf("roles: reload failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create role"})
	}

	actorID, _ := middleware.CurrentUserID(c)
	queue_publisher.Emit(queue.AuthEvent{Type: queue.EventRoleCreated, ActorID: actorID, ActorEmail: middleware.CurrentEmail(c), ActorRole: middleware.CurrentRole(c), TargetID: id, Resource: "roles", IP: c.RealIP()})
	return c.JSON(http.StatusCreated, role)
}

// Update handles PUT /v1/roles/:id (rename and re-describe only; the
// key is immutable because issued tokens embed it).
func (h *RoleHandler) Update(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req roleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": map[string]string{"name": "required"}})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	role, err := h.Roles.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
		}
		c.Logger().Errorf("roles: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update role"})
	}
	if role.IsBuiltIn {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "built-in roles cannot be modified"})
	}

	if err := h.Roles.Update(ctx, id, req.Name, strings.TrimSpace(req.Description)); err != nil {
		if err == repository.ErrDuplicate {
			return c.JSON(http.StatusConflict, echo.Map{"error": "role name already exists"})
		}
		c.Logger().Errorf("roles: update failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update role"})
	}
	updated, err := h.Roles.GetByID(ctx, id)
	if err != nil {
		c.Logger().Errorf("roles: reload failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update role"})
	}

	actorID, _ := middleware.CurrentUserID(c)
	queue_publisher.Emit(queue.AuthEvent{Type: queue.EventRoleUpdated, ActorID: actorID, ActorEmail: middleware.CurrentEmail(c), ActorRole: middleware.CurrentRole(c), TargetID: id, Resource: "roles", IP: c.RealIP()})
	return c.JSON(http.StatusOK, updated)
}

// ReplacePermissions handles PUT /v1/roles/:id/permissions. The caller
// supplies the complete desired permission id set; every id is
// validated before the role's assignments are atomically swapped.
// Tokens issued earlier keep their old snapshot until refreshed.
func (h *RoleHandler) ReplacePermissions(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req replacePermsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	role, err := h.Roles.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
		}
		c.Logger().Errorf("roles: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update permissions"})
	}
	if role.IsBuiltIn {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "built-in roles cannot be modified"})
	}

	existing, err := h.Perms.ExistingIDs(ctx, req.PermissionIDs)
	if err != nil {
		c.Logger().Errorf("roles: permission lookup failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update permissions"})
	}
	for _, pid := range req.PermissionIDs {
		if !existing[pid] {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "permission not found", "permission_id": pid})
		}
	}

	if err := h.Roles.ReplacePermissions(ctx, id, req.PermissionIDs); err != nil {
		c.Logger().Errorf("roles: replace permissions failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update permissions"})
	}
	perms, err := h.Roles.PermissionKeys(ctx, id)
	if err != nil {
		c.Logger().Errorf("roles: reload permissions failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update permissions"})
	}

	actorID, _ := middleware.CurrentUserID(c)
	queue_publisher.Emit(queue.AuthEvent{Type: queue.EventRoleRegrant, ActorID: actorID, ActorEmail: middleware.CurrentEmail(c), ActorRole: middleware.CurrentRole(c), TargetID: id, Resource: "roles", IP: c.RealIP()})
	return c.JSON(http.StatusOK, echo.Map{"role": role, "permissions": perms})
}

// Delete handles DELETE /v1/roles/:id. Built-in roles are undeletable;
// custom roles must have zero assigned users, and the conflict reports
// the exact count so the operator knows how many reassignments remain.
func (h *RoleHandler) Delete(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	role, err := h.Roles.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
		}
		c.Logger().Errorf("roles: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not delete role"})
	}
	if role.IsBuiltIn {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "built-in roles cannot be deleted"})
	}

	n, err := h.Roles.CountUsers(ctx, id)
	if err != nil {
		c.Logger().Errorf("roles: user count failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not delete role"})
	}
	if n > 0 {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":      "role still assigned to users",
			"user_count": n,
		})
	}

	if err := h.Roles.Delete(ctx, id); err != nil {
		switch err {
		case repository.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
		case repository.ErrRoleInUse:
			// Raced assignment between the count and the delete.
			return c.JSON(http.StatusConflict, echo.Map{"error": "role still assigned to users"})
		}
		c.Logger().Errorf("roles: delete failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not delete role"})
	}

	actorID, _ := middleware.CurrentUserID(c)
	queue_publisher.Emit(queue.AuthEvent{Type: queue.EventRoleDeleted, ActorID: actorID, ActorEmail: middleware.CurrentEmail(c), ActorRole: middleware.CurrentRole(c), TargetID: id, Resource: "roles", IP: c.RealIP()})
	return c.NoContent(http.StatusNoContent)
}
