package notification

import (
	"errors"
	"net/http"

	"github.com/clinicportal/portal/internal/platform/auth"
	"github.com/clinicportal/portal/pkg/pagination"
	"github.com/labstack/echo/v4"
)

// NotificationHandler exposes the caller's inbox over HTTP.
type NotificationHandler struct {
	manager *NotificationManager
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(mgr *NotificationManager) *NotificationHandler {
	return &NotificationHandler{manager: mgr}
}

// RegisterRoutes registers inbox routes on api and the stats route on admin.
func (h *NotificationHandler) RegisterRoutes(api, admin *echo.Group) {
	api.GET("/notifications", h.HandleList)
	api.DELETE("/notifications/:id", h.HandleDismiss)
	admin.GET("/notifications/stats", h.HandleStats)
}

// HandleList handles GET /notifications.
func (h *NotificationHandler) HandleList(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	params := pagination.FromContext(c)

	list, err := h.manager.ListByRecipient(c.Request().Context(), uid, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	total := len(list)
	list = pagination.Slice(list, params)
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, params.Limit, params.Offset))
}

// HandleDismiss handles DELETE /notifications/:id.
func (h *NotificationHandler) HandleDismiss(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	err := h.manager.Dismiss(c.Request().Context(), uid, c.Param("id"))
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleStats handles GET /admin/notifications/stats.
func (h *NotificationHandler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.NotificationStats(c.Request().Context()))
}
