package handler

import (
	"context"
	"database/sql"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/erp-auth/internal/config"
	"github.com/iliyamo/erp-auth/internal/middleware"
	"github.com/iliyamo/erp-auth/internal/model"
	"github.com/iliyamo/erp-auth/internal/queue"
	"github.com/iliyamo/erp-auth/internal/repository"
	queue_publisher "github.com/iliyamo/erp-auth/internal/service"
	"github.com/iliyamo/erp-auth/internal/utils"
)

// UserHandler implements administrative CRUD over user accounts with
// the safety invariants: no self role/status change, no self delete,
// and the last active administrator can never be removed.
type UserHandler struct {
	Cfg    config.Config
	Users  *repository.UserRepo
	Roles  *repository.RoleRepo
	Tokens *repository.TokenRepo
}

func NewUserHandler(cfg config.Config, u *repository.UserRepo, r *repository.RoleRepo, t *repository.TokenRepo) *UserHandler {
	return &UserHandler{Cfg: cfg, Users: u, Roles: r, Tokens: t}
}

type createUserReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	RoleID   uint64 `json:"role_id"`
	Status   string `json:"status"`
}

type updateUserReq struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
	FullName *string `json:"full_name"`
	RoleID   *uint64 `json:"role_id"`
	Status   *string `json:"status"`
}

type userResp struct {
	ID          uint64     `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	RoleID      uint64     `json:"role_id"`
	RoleName    string     `json:"role_name"`
	RoleKey     string     `json:"role_key"`
	Status      string     `json:"status"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toUserResp(u model.UserWithRole) userResp {
	return userResp{
		ID: u.ID, Email: u.Email, FullName: u.FullName,
		RoleID: u.RoleID, RoleName: u.RoleName, RoleKey: u.RoleKey,
		Status: u.Status, LastLoginAt: u.LastLoginAt,
		CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func validEmail(s string) bool {
	_, err := mail.ParseAddress(s)
	return err == nil
}

// List handles GET /v1/users.
func (h *UserHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	users, err := h.Users.List(ctx)
	if err != nil {
		c.Logger().Errorf("users: list failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not list users"})
	}
	items := make([]userResp, 0, len(users))
	for _, u := range users {
		items = append(items, toUserResp(u))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Create handles POST /v1/users.
func (h *UserHandler) Create(c echo.Context) error {
	var req createUserReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)

	fields := map[string]string{}
	if !validEmail(req.Email) {
		fields["email"] = "valid email required"
	}
	if err := utils.ValidatePassword(req.Password); err != nil {
		fields["password"] = "must be at least " + strconv.Itoa(utils.MinPasswordLength) + " characters"
	}
	if req.FullName == "" {
		fields["full_name"] = "required"
	}
	if req.RoleID == 0 {
		fields["role_id"] = "required"
	}
	if req.Status == "" {
		req.Status = model.StatusActive
	}
	if !model.ValidStatus(req.Status) {
		fields["status"] = "must be active, inactive or suspended"
	}
	if len(fields) > 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": fields})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Roles.GetByID(ctx, req.RoleID); err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found", "role_id": req.RoleID})
		}
		c.Logger().Errorf("users: role lookup failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create user"})
	}

	id, err := h.Users.Create(ctx, req.Email, req.Password, req.FullName, req.RoleID, req.Status, h.Cfg.BcryptCost)
	if err != nil {
		if err == repository.ErrEmailExists {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
		}
		c.Logger().Errorf("users: create failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create user"})
	}

	created, err := h.Users.GetByID(ctx, id)
	if err != nil {
		c.Logger().Errorf("users: reload failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create user"})
	}

	actorID, _ := middleware.CurrentUserID(c)
	queue_publisher.Emit(queue.AuthEvent{Type: queue.EventUserCreated, ActorID: actorID, ActorEmail: middleware.CurrentEmail(c), ActorRole: middleware.CurrentRole(c), TargetID: id, Resource: "users", IP: c.RealIP()})
	return c.JSON(http.StatusCreated, toUserResp(created))
}

// Update handles PUT /v1/users/:id. Partial: absent fields keep their
// current value. A caller may never change their own role or status,
// which closes privilege self-escalation and self-lockout in one rule.
func (h *UserHandler) Update(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req updateUserReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	target, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		c.Logger().Errorf("users: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update user"})
	}

	actorID, _ := middleware.CurrentUserID(c)
	if actorID == id {
		if (req.RoleID != nil && *req.RoleID != target.RoleID) ||
			(req.Status != nil && *req.Status != target.Status) {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "cannot change your own role or status"})
		}
	}

	// Resolve the final field values.
	email := target.Email
	if req.Email != nil {
		email = strings.ToLower(strings.TrimSpace(*req.Email))
		if !validEmail(email) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": map[string]string{"email": "valid email required"}})
		}
	}
	fullName := target.FullName
	if req.FullName != nil {
		fullName = strings.TrimSpace(*req.FullName)
		if fullName == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": map[string]string{"full_name": "required"}})
		}
	}
	roleID := target.RoleID
	if req.RoleID != nil && *req.RoleID != target.RoleID {
		if _, err := h.Roles.GetByID(ctx, *req.RoleID); err != nil {
			if err == repository.ErrNotFound {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found", "role_id": *req.RoleID})
			}
			c.Logger().Errorf("users: role lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update user"})
		}
		roleID = *req.RoleID
	}
	status := target.Status
	if req.Status != nil {
		if !model.ValidStatus(*req.Status) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": map[string]string{"status": "must be active, inactive or suspended"}})
		}
		status = *req.Status
	}

	// Last-admin protection also applies to demotions: deactivating the
	// final active administrator or moving them off the admin role
	// would lock administration out just like deleting them.
	if target.RoleKey == model.AdminRoleKey && target.Status == model.StatusActive {
		losesAdmin := status != model.StatusActive || roleID != target.RoleID
		if losesAdmin {
			n, err := h.Users.CountActiveByRoleKey(ctx, model.AdminRoleKey)
			if err != nil {
				c.Logger().Errorf("users: admin count failed: %v", err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update user"})
			}
			if n <= 1 {
				return c.JSON(http.StatusConflict, echo.Map{"error": "cannot demote the last active administrator"})
			}
		}
	}

	if req.Password != nil {
		if err := utils.ValidatePassword(*req.Password); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": map[string]string{"password": "must be at least " + strconv.Itoa(utils.MinPasswordLength) + " characters"}})
		}
	}

	if err := h.Users.Update(ctx, id, email, fullName, roleID, status); err != nil {
		switch err {
		case repository.ErrEmailExists:
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
		case repository.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		c.Logger().Errorf("users: update failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update user"})
	}
	if req.Password != nil {
		if err := h.Users.UpdatePassword(ctx, id, *req.Password, h.Cfg.BcryptCost); err != nil {
			c.Logger().Errorf("users: password update failed: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update user"})
		}
	}
	// A user taken out of active service loses their sessions with it.
	if status != model.StatusActive && target.Status == model.StatusActive {
		if err := h.Tokens.RevokeAllForUser(ctx, id); err != nil {
			c.Logger().Warnf("users: revoke sessions failed: %v", err)
		}
	}

	updated, err := h.Users.GetByID(ctx, id)
	if err != nil {
		c.Logger().Errorf("users: reload failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update user"})
	}

	queue_publisher.Emit(queue.AuthEvent{Type: queue.EventUserUpdated, ActorID: actorID, ActorEmail: middleware.CurrentEmail(c), ActorRole: middleware.CurrentRole(c), TargetID: id, Resource: "users", IP: c.RealIP()})
	return c.JSON(http.StatusOK, toUserResp(updated))
}

// Delete handles DELETE /v1/users/:id. Deletion is soft: the account
// is flipped to inactive and all of its refresh tokens are revoked.
// The row itself stays for referential integrity and the audit trail.
func (h *UserHandler) Delete(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	actorID, _ := middleware.CurrentUserID(c)
	if actorID == id {
		return c.JSON(http.StatusConflict, echo.Map{"error": "cannot delete your own account"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	target, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		c.Logger().Errorf("users: load failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not delete user"})
	}

	if target.RoleKey == model.AdminRoleKey && target.Status == model.StatusActive {
		n, err := h.Users.CountActiveByRoleKey(ctx, model.AdminRoleKey)
		if err != nil {
			c.Logger().Errorf("users: admin count failed: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not delete user"})
		}
		if n <= 1 {
			return c.JSON(http.StatusConflict, echo.Map{"error": "cannot delete the last active administrator"})
		}
	}

	if err := h.Users.SetStatus(ctx, id, model.StatusInactive); err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		c.Logger().Errorf("users: deactivate failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not delete user"})
	}
	if err := h.Tokens.RevokeAllForUser(ctx, id); err != nil {
		c.Logger().Warnf("users: revoke sessions failed: %v", err)
	}

	queue_publisher.Emit(queue.AuthEvent{Type: queue.EventUserDeleted, ActorID: actorID, ActorEmail: middleware.CurrentEmail(c), ActorRole: middleware.CurrentRole(c), TargetID: id, Resource: "users", IP: c.RealIP()})
	return c.NoContent(http.StatusNoContent)
}
