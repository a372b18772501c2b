package account

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicportal/portal/internal/platform/auth"
	"github.com/clinicportal/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the caller's account routes on api and user
// management on admin.
func (h *Handler) RegisterRoutes(api, admin *echo.Group) {
	api.POST("/account", h.Register)
	api.GET("/account", h.Me)
	api.GET("/account/status", h.Status)

	admin.GET("/users", h.ListUsers)
	admin.GET("/users/:uid", h.GetUser)
	admin.POST("/users/:uid/deactivate", h.Deactivate)
	admin.POST("/users/:uid/reactivate", h.Reactivate)
}

func (h *Handler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	u, err := h.svc.Register(ctx, uid, auth.EmailFromContext(ctx), auth.NameFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	u, err := h.svc.Get(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, u)
}

// Status reports whether the caller's account may keep using the portal.
func (h *Handler) Status(c echo.Context) error {
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"status": "unauthenticated"})
	}

	status, err := h.svc.CheckStatus(ctx, uid)
	if err != nil {
		c.Logger().Errorf("check user status: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"status": "error", "message": "Failed to check user status",
		})
	}
	switch status {
	case AccountNotFound:
		return c.JSON(http.StatusNotFound, map[string]string{"status": string(status)})
	case AccountInactive:
		return c.JSON(http.StatusForbidden, map[string]string{
			"status": string(status), "message": "Your account has been deactivated",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(status)})
}

func (h *Handler) ListUsers(c echo.Context) error {
	pg := pagination.FromContext(c)
	users, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg.Limit, pg.Offset).WithNext(c.Path()))
}

func (h *Handler) GetUser(c echo.Context) error {
	u, err := h.svc.Get(c.Request().Context(), c.Param("uid"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Deactivate(c echo.Context) error {
	return h.changeStatus(c, h.svc.Deactivate)
}

func (h *Handler) Reactivate(c echo.Context) error {
	return h.changeStatus(c, h.svc.Reactivate)
}

func (h *Handler) changeStatus(c echo.Context, apply func(ctx context.Context, ref Ref) (*User, error)) error {
	u, err := apply(c.Request().Context(), Ref{UID: c.Param("uid")})
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, u)
}
