package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/erp-auth/internal/model"
	"github.com/iliyamo/erp-auth/internal/repository"
)

// PermissionHandler exposes the permission catalog for the role
// assignment UI.
type PermissionHandler struct {
	Perms *repository.PermissionRepo
}

func NewPermissionHandler(p *repository.PermissionRepo) *PermissionHandler {
	return &PermissionHandler{Perms: p}
}

type permissionGroup struct {
	Resource    string             `json:"resource"`
	Permissions []model.Permission `json:"permissions"`
}

// List handles GET /v1/permissions and returns permissions grouped by
// resource, in stable resource order.
func (h *PermissionHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	perms, err := h.Perms.List(ctx)
	if err != nil {
		c.Logger().Errorf("permissions: list failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not list permissions"})
	}

	// The repo orders by resource; fold consecutive rows into groups.
	var groups []permissionGroup
	for _, p := range perms {
		if len(groups) == 0 || groups[len(groups)-1].Resource != p.Resource {
			groups = append(groups, permissionGroup{Resource: p.Resource})
		}
		g := &groups[len(groups)-1]
		g.Permissions = append(g.Permissions, p)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": groups})
}
