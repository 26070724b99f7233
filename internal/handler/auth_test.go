package handler

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/erp-auth/internal/config"
	"github.com/iliyamo/erp-auth/internal/middleware"
	"github.com/iliyamo/erp-auth/internal/repository"
	"github.com/iliyamo/erp-auth/internal/utils"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:      "test-secret",
		AccessTTLMin:   15,
		RefreshTTLDays: 7,
		BcryptCost:     bcrypt.MinCost,
	}
}

func newAuthHandler(t *testing.T) (*AuthHandler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	h := NewAuthHandler(testConfig(),
		repository.NewUserRepo(db),
		repository.NewRoleRepo(db),
		repository.NewTokenRepo(db))
	return h, mock, func() { db.Close() }
}

func jsonCtx(method, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func userRow(id uint64, email, hash, status string, roleID uint64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "full_name", "role_id", "status",
		"last_login_at", "created_at", "updated_at", "name", "role_key",
	}).AddRow(id, email, hash, "Test User", roleID, status, nil, now, now, "Staff", "staff")
}

func mustHash(t *testing.T, plain string) string {
	t.Helper()
	h, err := utils.HashPassword(plain, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

func TestLoginSuccess(t *testing.T) {
	h, mock, done := newAuthHandler(t)
	defer done()

	hash := mustHash(t, "s3cret-pass")
	mock.ExpectQuery("FROM users u JOIN roles r ON r.id=u.role_id WHERE u.email=").
		WithArgs("user@example.com").
		WillReturnRows(userRow(3, "user@example.com", hash, "active", 2))
	mock.ExpectQuery("SELECT p.perm_key FROM role_permissions rp").
		WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"perm_key"}).AddRow("dashboard.view"))
	mock.ExpectExec("UPDATE users SET last_login_at=NOW").
		WithArgs(uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(uint64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	c, rec := jsonCtx(http.MethodPost, "/v1/auth/login",
		`{"email":"User@Example.com","password":"s3cret-pass"}`)
	if err := h.Login(c); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"dashboard.view"`) || !strings.Contains(body, `"refresh"`) {
		t.Fatalf("unexpected body: %s", body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// Unknown email and wrong password must be indistinguishable to the
// caller so failed logins cannot be used to enumerate accounts.
func TestLoginFailureIsUniform(t *testing.T) {
	h, mock, done := newAuthHandler(t)
	defer done()

	mock.ExpectQuery("WHERE u.email=").
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)
	c1, rec1 := jsonCtx(http.MethodPost, "/v1/auth/login",
		`{"email":"ghost@example.com","password":"whatever"}`)
	if err := h.Login(c1); err != nil {
		t.Fatalf("login: %v", err)
	}

	mock.ExpectQuery("WHERE u.email=").
		WithArgs("user@example.com").
		WillReturnRows(userRow(3, "user@example.com", mustHash(t, "right-pass"), "active", 2))
	c2, rec2 := jsonCtx(http.MethodPost, "/v1/auth/login",
		`{"email":"user@example.com","password":"wrong-pass"}`)
	if err := h.Login(c2); err != nil {
		t.Fatalf("login: %v", err)
	}

	if rec1.Code != http.StatusUnauthorized || rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", rec1.Code, rec2.Code)
	}
	if rec1.Body.String() != rec2.Body.String() {
		t.Fatalf("bodies differ: %q vs %q", rec1.Body.String(), rec2.Body.String())
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	h, mock, done := newAuthHandler(t)
	defer done()

	mock.ExpectQuery("WHERE u.email=").
		WithArgs("off@example.com").
		WillReturnRows(userRow(4, "off@example.com", mustHash(t, "pass-1234"), "inactive", 2))

	c, rec := jsonCtx(http.MethodPost, "/v1/auth/login",
		`{"email":"off@example.com","password":"pass-1234"}`)
	if err := h.Login(c); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "account is not active") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestLoginMissingFields(t *testing.T) {
	h, _, done := newAuthHandler(t)
	defer done()

	c, rec := jsonCtx(http.MethodPost, "/v1/auth/login", `{"email":"a@b.c"}`)
	if err := h.Login(c); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	h, mock, done := newAuthHandler(t)
	defer done()

	future := time.Now().UTC().Add(24 * time.Hour)
	mock.ExpectQuery("SELECT user_id, expires_at, revoked_at FROM refresh_tokens").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).
			AddRow(3, future, nil))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at=NOW").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM users u JOIN roles r ON r.id=u.role_id WHERE u.id=").
		WithArgs(uint64(3)).
		WillReturnRows(userRow(3, "user@example.com", "irrelevant", "active", 2))
	mock.ExpectQuery("SELECT p.perm_key FROM role_permissions rp").
		WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"perm_key"}).AddRow("dashboard.view"))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(uint64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	c, rec := jsonCtx(http.MethodPost, "/v1/auth/refresh",
		`{"refresh_token":"deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"}`)
	if err := h.Refresh(c); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// A refresh token that was already consumed (revoked on its first use)
// must never validate again.
func TestRefreshReplayRejected(t *testing.T) {
	h, mock, done := newAuthHandler(t)
	defer done()

	revoked := time.Now().UTC().Add(-time.Minute)
	mock.ExpectQuery("SELECT user_id, expires_at, revoked_at FROM refresh_tokens").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).
			AddRow(3, time.Now().UTC().Add(24*time.Hour), revoked))

	c, rec := jsonCtx(http.MethodPost, "/v1/auth/refresh",
		`{"refresh_token":"deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"}`)
	if err := h.Refresh(c); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid refresh token") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestRefreshInactiveUserRejected(t *testing.T) {
	h, mock, done := newAuthHandler(t)
	defer done()

	future := time.Now().UTC().Add(24 * time.Hour)
	mock.ExpectQuery("SELECT user_id, expires_at, revoked_at FROM refresh_tokens").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).
			AddRow(3, future, nil))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at=NOW").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM users u JOIN roles r ON r.id=u.role_id WHERE u.id=").
		WithArgs(uint64(3)).
		WillReturnRows(userRow(3, "user@example.com", "irrelevant", "suspended", 2))

	c, rec := jsonCtx(http.MethodPost, "/v1/auth/refresh",
		`{"refresh_token":"deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"}`)
	if err := h.Refresh(c); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// Logging out twice with the same token succeeds both times.
func TestLogoutIsIdempotent(t *testing.T) {
	h, mock, done := newAuthHandler(t)
	defer done()

	for i := 0; i < 2; i++ {
		mock.ExpectExec("UPDATE refresh_tokens SET revoked_at=NOW").
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, int64(1-i)))

		c, rec := jsonCtx(http.MethodPost, "/v1/auth/logout",
			`{"refresh_token":"deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"}`)
		c.Set(middleware.CtxUserID, uint64(3))
		c.Set(middleware.CtxEmail, "user@example.com")
		c.Set(middleware.CtxRole, "staff")
		if err := h.Logout(c); err != nil {
			t.Fatalf("logout #%d: %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("logout #%d expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestMeReturnsFreshPermissions(t *testing.T) {
	h, mock, done := newAuthHandler(t)
	defer done()

	mock.ExpectQuery("FROM users u JOIN roles r ON r.id=u.role_id WHERE u.id=").
		WithArgs(uint64(3)).
		WillReturnRows(userRow(3, "user@example.com", "irrelevant", "active", 2))
	mock.ExpectQuery("SELECT p.perm_key FROM role_permissions rp").
		WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"perm_key"}).
			AddRow("dashboard.view").AddRow("reports.view"))

	c, rec := jsonCtx(http.MethodGet, "/v1/auth/me", "")
	c.Set(middleware.CtxUserID, uint64(3))
	if err := h.Me(c); err != nil {
		t.Fatalf("me: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"reports.view"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	// One utils sanity check rides along: the snapshot helper answers
	// from the token claims, not the store.
	claims := utils.AccessClaims{Permissions: []string{"dashboard.view"}}
	if !claims.HasPermission("dashboard.view") || claims.HasPermission("users.view") {
		t.Fatal("HasPermission misbehaved")
	}
}
