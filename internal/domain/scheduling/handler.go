package scheduling

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
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

// RegisterRoutes mounts patient routes on api and console routes on admin.
func (h *Handler) RegisterRoutes(api, admin *echo.Group) {
	api.POST("/appointments", h.Book)
	api.GET("/appointments", h.ListOwn)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments/:id/cancel", h.RequestCancellation)
	api.GET("/slots", h.AvailableSlots)

	admin.GET("/appointments", h.SearchAppointments)
	admin.POST("/appointments/:id/accept", h.Accept)
	admin.POST("/appointments/:id/decline", h.Decline)
	admin.POST("/appointments/:id/reschedule", h.Reschedule)
	admin.POST("/appointments/:id/complete", h.Complete)
	admin.POST("/appointments/:id/cancellation/approve", h.ApproveCancellation)
	admin.POST("/appointments/:id/cancellation/decline", h.DeclineCancellation)

	admin.GET("/schedule/defaults", h.GetDefaults)
	admin.PUT("/schedule/defaults", h.SaveDefaults)
	admin.GET("/schedule/daily/:date", h.GetDaily)
	admin.PUT("/schedule/daily/:date", h.SaveDaily)
	admin.DELETE("/schedule/daily/:date", h.DeleteDaily)
}

// httpError maps service errors to responses. Anything unrecognised is a
// server fault and its detail stays in the log.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSlotUnavailable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnregistered):
		return echo.NewHTTPError(http.StatusConflict, "patient account is not registered, create it with POST /api/v1/account")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func callerID(c echo.Context) (string, error) {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return uid, nil
}

// -- Patient Handlers --

func (h *Handler) Book(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if a.PatientName == "" {
		a.PatientName = auth.NameFromContext(c.Request().Context())
	}
	if err := h.svc.Book(c.Request().Context(), uid, &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListOwn(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), uid, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// GetAppointment returns the appointment to its patient or to an admin.
func (h *Handler) GetAppointment(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	var a *Appointment
	if auth.IsAdmin(ctx) {
		a, err = h.svc.Get(ctx, id)
	} else {
		a, err = h.svc.GetOwned(ctx, id, uid)
	}
	if errors.Is(err, ErrForbidden) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RequestCancellation(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.RequestCancellation(c.Request().Context(), id, uid, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"date": date, "slots": slots})
}

// -- Admin Handlers --

var searchParams = []string{"patient", "status", "cancellation_status", "payment_status", "date", "service"}

func (h *Handler) SearchAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := make(map[string]string)
	for _, k := range searchParams {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) applyTransition(c echo.Context, fn func(ctx context.Context, id uuid.UUID) (*Appointment, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := fn(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Accept(c echo.Context) error   { return h.applyTransition(c, h.svc.Accept) }
func (h *Handler) Decline(c echo.Context) error  { return h.applyTransition(c, h.svc.Decline) }
func (h *Handler) Complete(c echo.Context) error { return h.applyTransition(c, h.svc.Complete) }

func (h *Handler) ApproveCancellation(c echo.Context) error {
	return h.applyTransition(c, h.svc.ApproveCancellation)
}

func (h *Handler) DeclineCancellation(c echo.Context) error {
	return h.applyTransition(c, h.svc.DeclineCancellation)
}

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Reschedule(c.Request().Context(), id, req.Date, req.Time)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetDefaults(c echo.Context) error {
	d, err := h.svc.Defaults(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) SaveDefaults(c echo.Context) error {
	var d ScheduleDefaults
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SaveDefaults(c.Request().Context(), &d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetDaily(c echo.Context) error {
	d, err := h.svc.GetDaily(c.Request().Context(), c.Param("date"))
	if err != nil {
		return httpError(err)
	}
	if d == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no schedule override for date")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) SaveDaily(c echo.Context) error {
	var d DailySchedule
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.Date = c.Param("date")
	if err := h.svc.SaveDaily(c.Request().Context(), &d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDaily(c echo.Context) error {
	if err := h.svc.DeleteDaily(c.Request().Context(), c.Param("date")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
