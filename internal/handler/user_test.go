package handler

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/erp-auth/internal/middleware"
	"github.com/iliyamo/erp-auth/internal/repository"
)

func newUserHandler(t *testing.T) (*UserHandler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	h := NewUserHandler(testConfig(),
		repository.NewUserRepo(db),
		repository.NewRoleRepo(db),
		repository.NewTokenRepo(db))
	return h, mock, func() { db.Close() }
}

func adminRow(id uint64, email, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "full_name", "role_id", "status",
		"last_login_at", "created_at", "updated_at", "name", "role_key",
	}).AddRow(id, email, "hash", "Admin User", 1, status, nil, now, now, "Administrator", "admin")
}

func asActor(c echo.Context, id uint64, role string) {
	c.Set(middleware.CtxUserID, id)
	c.Set(middleware.CtxEmail, "actor@example.com")
	c.Set(middleware.CtxRole, role)
}

func TestCreateUserValidation(t *testing.T) {
	h, _, done := newUserHandler(t)
	defer done()

	c, rec := jsonCtx(http.MethodPost, "/v1/users",
		`{"email":"not-an-email","password":"short","full_name":""}`)
	asActor(c, 1, "admin")
	if err := h.Create(c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, f := range []string{"email", "password", "full_name", "role_id"} {
		if !strings.Contains(body, `"`+f+`"`) {
			t.Fatalf("missing field %q in body: %s", f, body)
		}
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	h, mock, done := newUserHandler(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, name, role_key, description, is_built_in").
		WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "role_key", "description", "is_built_in", "created_at", "updated_at"}).
			AddRow(2, "Staff", "staff", "", false, now, now))
	mock.ExpectExec("INSERT INTO users").
		WithArgs("dup@example.com", sqlmock.AnyArg(), "Dup User", uint64(2), "active").
		WillReturnError(errDuplicateKey{})

	c, rec := jsonCtx(http.MethodPost, "/v1/users",
		`{"email":"dup@example.com","password":"longenough","full_name":"Dup User","role_id":2}`)
	asActor(c, 1, "admin")
	if err := h.Create(c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

type errDuplicateKey struct{}

func (errDuplicateKey) Error() string { return "Error 1062: Duplicate entry" }

func TestUpdateOwnRoleForbidden(t *testing.T) {
	h, mock, done := newUserHandler(t)
	defer done()

	mock.ExpectQuery("WHERE u.id=").
		WithArgs(uint64(7)).
		WillReturnRows(userRow(7, "self@example.com", "hash", "active", 2))

	c, rec := jsonCtx(http.MethodPut, "/v1/users/7", `{"role_id":1}`)
	c.SetParamNames("id")
	c.SetParamValues("7")
	asActor(c, 7, "staff")
	if err := h.Update(c); err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "cannot change your own role or status") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestUpdateDemotingLastAdminConflicts(t *testing.T) {
	h, mock, done := newUserHandler(t)
	defer done()

	mock.ExpectQuery("WHERE u.id=").
		WithArgs(uint64(1)).
		WillReturnRows(adminRow(1, "root@example.com", "active"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users u JOIN roles r`).
		WithArgs("admin", "active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	c, rec := jsonCtx(http.MethodPut, "/v1/users/1", `{"status":"inactive"}`)
	c.SetParamNames("id")
	c.SetParamValues("1")
	asActor(c, 9, "admin")
	if err := h.Update(c); err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "last active administrator") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestDeleteSelfConflicts(t *testing.T) {
	h, _, done := newUserHandler(t)
	defer done()

	c, rec := jsonCtx(http.MethodDelete, "/v1/users/7", "")
	c.SetParamNames("id")
	c.SetParamValues("7")
	asActor(c, 7, "admin")
	if err := h.Delete(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cannot delete your own account") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestDeleteLastAdminConflicts(t *testing.T) {
	h, mock, done := newUserHandler(t)
	defer done()

	mock.ExpectQuery("WHERE u.id=").
		WithArgs(uint64(1)).
		WillReturnRows(adminRow(1, "root@example.com", "active"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users u JOIN roles r`).
		WithArgs("admin", "active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	c, rec := jsonCtx(http.MethodDelete, "/v1/users/1", "")
	c.SetParamNames("id")
	c.SetParamValues("1")
	asActor(c, 9, "admin")
	if err := h.Delete(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

// Deletion is soft: the account goes inactive and its sessions die,
// but the row stays.
func TestDeleteDeactivatesAndRevokesSessions(t *testing.T) {
	h, mock, done := newUserHandler(t)
	defer done()

	mock.ExpectQuery("WHERE u.id=").
		WithArgs(uint64(5)).
		WillReturnRows(userRow(5, "bye@example.com", "hash", "active", 2))
	mock.ExpectExec("UPDATE users SET status=").
		WithArgs("inactive", uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at=NOW").
		WithArgs(uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	c, rec := jsonCtx(http.MethodDelete, "/v1/users/5", "")
	c.SetParamNames("id")
	c.SetParamValues("5")
	asActor(c, 1, "admin")
	if err := h.Delete(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
