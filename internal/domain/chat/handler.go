package chat

import (
	"errors"
	"net/http"
	"strconv"

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

func (h *Handler) RegisterRoutes(api, admin *echo.Group) {
	api.GET("/chat", h.ListOwn)
	api.POST("/chat", h.SendOwn)

	admin.GET("/chats", h.ListConversations)
	admin.GET("/chats/:uid", h.ListForPatient)
	admin.POST("/chats/:uid", h.SendToPatient)
}

type sendRequest struct {
	Message string `json:"message"`
}

func limitParam(c echo.Context) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit > pagination.MaxLimit {
		limit = pagination.MaxLimit
	}
	return limit
}

func (h *Handler) ListOwn(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return h.list(c, uid)
}

func (h *Handler) SendOwn(c echo.Context) error {
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return h.send(c, &Message{PatientUID: uid, SenderRole: SenderPatient, SenderName: auth.NameFromContext(ctx)})
}

func (h *Handler) ListForPatient(c echo.Context) error {
	return h.list(c, c.Param("uid"))
}

func (h *Handler) SendToPatient(c echo.Context) error {
	name := auth.NameFromContext(c.Request().Context())
	return h.send(c, &Message{PatientUID: c.Param("uid"), SenderRole: SenderAdmin, SenderName: name})
}

func (h *Handler) ListConversations(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Conversations(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) list(c echo.Context, uid string) error {
	items, err := h.svc.List(c.Request().Context(), uid, limitParam(c))
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) send(c echo.Context, m *Message) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.Message = req.Message
	if err := h.svc.Send(c.Request().Context(), m); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnregistered):
		return echo.NewHTTPError(http.StatusConflict, "patient account is not registered, create it with POST /api/v1/account")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
