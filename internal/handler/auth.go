package handler

import (
	"context"      // context with cancellation for DB calls
	"database/sql" // sentinel errors like sql.ErrNoRows
	"net/http"     // HTTP status codes
	"strings"      // input normalization
	"time"         // DB call timeouts

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/iliyamo/erp-auth/internal/config"
	"github.com/iliyamo/erp-auth/internal/middleware"
	"github.com/iliyamo/erp-auth/internal/model"
	"github.com/iliyamo/erp-auth/internal/queue"
	"github.com/iliyamo/erp-auth/internal/repository"
	queue_publisher "github.com/iliyamo/erp-auth/internal/service"
	"github.com/iliyamo/erp-auth/internal/utils"
)

// AuthHandler bundles dependencies for the authentication endpoints:
// login, refresh, logout and current-user resolution.
type AuthHandler struct {
	Cfg    config.Config
	Users  *repository.UserRepo
	Roles  *repository.RoleRepo
	Tokens *repository.TokenRepo
}

func NewAuthHandler(cfg config.Config, u *repository.UserRepo, r *repository.RoleRepo, t *repository.TokenRepo) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Roles: r, Tokens: t}
}

// ----- DTOs -----

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID       uint64 `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Status   string `json:"status"`
}
type rolePart struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}
type authResp struct {
	User        userPart  `json:"user"`
	Role        rolePart  `json:"role"`
	Permissions []string  `json:"permissions"`
	Access      tokenPart `json:"access"`
	Refresh     tokenPart `json:"refresh"`
}

// issuePair mints an access token carrying the given permission
// snapshot plus a stored refresh token for the user.
func (h *AuthHandler) issuePair(ctx context.Context, u model.UserWithRole, perms []string) (utils.AccessToken, utils.RefreshToken, error) {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Email, u.RoleKey, perms, h.Cfg.AccessTTLMin)
	if err != nil {
		return utils.AccessToken{}, utils.RefreshToken{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return utils.AccessToken{}, utils.RefreshToken{}, err
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return utils.AccessToken{}, utils.RefreshToken{}, err
	}
	return access, refresh, nil
}

// Login verifies credentials and returns a token pair together with
// the user, role and current permission set. Unknown email and wrong
// password produce the identical response so callers cannot probe
// which of the two failed.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			queue_publisher.Emit(queue.AuthEvent{Type: queue.EventLoginFailed, ActorEmail: req.Email, Detail: "unknown email", IP: c.RealIP()})
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		c.Logger().Errorf("login: query failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}
	if u.Status != model.StatusActive {
		queue_publisher.Emit(queue.AuthEvent{Type: queue.EventLoginFailed, ActorID: u.ID, ActorEmail: u.Email, Detail: "account " + u.Status, IP: c.RealIP()})
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account is not active"})
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		queue_publisher.Emit(queue.AuthEvent{Type: queue.EventLoginFailed, ActorID: u.ID, ActorEmail: u.Email, Detail: "bad password", IP: c.RealIP()})
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	perms, err := h.Roles.PermissionKeys(ctx, u.RoleID)
	if err != nil {
		c.Logger().Errorf("login: load permissions failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}
	if err := h.Users.StampLastLogin(ctx, u.ID); err != nil {
		c.Logger().Warnf("login: stamp last login failed: %v", err)
	}

	access, refresh, err := h.issuePair(ctx, u, perms)
	if err != nil {
		c.Logger().Errorf("login: issue tokens failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}

	queue_publisher.Emit(queue.AuthEvent{Type: queue.EventLogin, ActorID: u.ID, ActorEmail: u.Email, ActorRole: u.RoleKey, IP: c.RealIP()})
	return c.JSON(http.StatusOK, authResp{
		User:        userPart{ID: u.ID, Email: u.Email, FullName: u.FullName, Status: u.Status},
		Role:        rolePart{Name: u.RoleName, Key: u.RoleKey},
		Permissions: perms,
		Access:      tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh:     tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	})
}

// Refresh exchanges a valid refresh token for a new access+refresh
// pair. The presented token is revoked as part of the exchange, so
// every refresh token is usable at most once; replaying a consumed
// token always fails. Permissions are reloaded from the store here,
// which is how role edits propagate into tokens.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	userID, err := h.Tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}
	// Single-use: the presented token dies the moment it validates.
	if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
		c.Logger().Errorf("refresh: revoke failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}

	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		c.Logger().Errorf("refresh: load user failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}
	if u.Status != model.StatusActive {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}

	perms, err := h.Roles.PermissionKeys(ctx, u.RoleID)
	if err != nil {
		c.Logger().Errorf("refresh: load permissions failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}

	access, refresh, err := h.issuePair(ctx, u, perms)
	if err != nil {
		c.Logger().Errorf("refresh: issue tokens failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}

	queue_publisher.Emit(queue.AuthEvent{Type: queue.EventRefresh, ActorID: u.ID, ActorEmail: u.Email, ActorRole: u.RoleKey, IP: c.RealIP()})
	return c.JSON(http.StatusOK, authResp{
		User:        userPart{ID: u.ID, Email: u.Email, FullName: u.FullName, Status: u.Status},
		Role:        rolePart{Name: u.RoleName, Key: u.RoleKey},
		Permissions: perms,
		Access:      tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh:     tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
	})
}

// Logout revokes the presented refresh token. It runs behind JWTAuth
// and is idempotent: revoking an already-revoked or unknown token is
// still a successful logout. Only the presented session dies; other
// devices keep their refresh tokens.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
		c.Logger().Errorf("logout: revoke failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}

	uid, _ := middleware.CurrentUserID(c)
	queue_publisher.Emit(queue.AuthEvent{Type: queue.EventLogout, ActorID: uid, ActorEmail: middleware.CurrentEmail(c), ActorRole: middleware.CurrentRole(c), IP: c.RealIP()})
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Me re-reads identity, role and the live permission set from the
// store. Unlike the token-embedded snapshot this is always fresh, so
// clients that need immediate visibility of permission edits call here.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		}
		c.Logger().Errorf("me: load user failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	perms, err := h.Roles.PermissionKeys(ctx, u.RoleID)
	if err != nil {
		c.Logger().Errorf("me: load permissions failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"user":        userPart{ID: u.ID, Email: u.Email, FullName: u.FullName, Status: u.Status},
		"role":        rolePart{Name: u.RoleName, Key: u.RoleKey},
		"permissions": perms,
	})
}
