package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicportal/portal/internal/domain/scheduling"
	"github.com/clinicportal/portal/internal/platform/auth"
)

// maxWebhookBody caps the webhook payload read.
const maxWebhookBody = 64 << 10

type Handler struct {
	svc     *Service
	baseURL string
}

// NewHandler builds the payment handler. baseURL is the checkout return
// origin used when a request carries no Origin header; empty falls back to
// the request host.
func NewHandler(svc *Service, baseURL string) *Handler {
	return &Handler{svc: svc, baseURL: baseURL}
}

// RegisterRoutes mounts checkout on the authenticated group, refunds on the
// admin group and the webhook on the public group.
func (h *Handler) RegisterRoutes(public, api, admin *echo.Group) {
	api.POST("/payments/session", h.CreatePaymentSession)
	api.GET("/payments/session", h.GetSession)

	admin.POST("/payments/refund", h.ProcessRefund)

	public.POST("/payments/webhook", h.Webhook)
}

// errorBody is the payment error envelope.
func errorBody(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAppointmentRequired),
		errors.Is(err, ErrSessionRequired),
		errors.Is(err, ErrNoAppointmentInMeta),
		errors.Is(err, ErrNotRefundable),
		errors.Is(err, ErrNoPaymentSession),
		errors.Is(err, ErrNoPaymentIntent),
		errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrAppointmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduling.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, scheduling.ErrInvalidTransition),
		errors.Is(err, ErrNotPayable):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

type createSessionRequest struct {
	AppointmentID string  `json:"appointmentId"`
	Amount        float64 `json:"amount"`
	Service       string  `json:"service"`
}

func (h *Handler) CreatePaymentSession(c echo.Context) error {
	ctx := c.Request().Context()
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return errorBody(c, http.StatusBadRequest, err)
	}

	patientID := auth.UserIDFromContext(ctx)
	if auth.IsAdmin(ctx) {
		patientID = ""
	}
	origin := c.Request().Header.Get("Origin")
	if origin == "" {
		origin = h.baseURL
	}
	if origin == "" {
		origin = c.Scheme() + "://" + c.Request().Host
	}

	id, err := h.svc.CreatePaymentSession(ctx, patientID, req.AppointmentID, req.Amount, req.Service, origin)
	if err != nil {
		c.Logger().Errorf("create payment session: %v", err)
		return errorBody(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

func (h *Handler) GetSession(c echo.Context) error {
	appointmentID, err := h.svc.GetSession(c.Request().Context(), c.QueryParam("session_id"))
	if err != nil {
		c.Logger().Errorf("retrieve payment session: %v", err)
		return errorBody(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, map[string]string{"appointmentId": appointmentID})
}

type refundRequest struct {
	AppointmentID string `json:"appointmentId"`
}

func (h *Handler) ProcessRefund(c echo.Context) error {
	var req refundRequest
	if err := c.Bind(&req); err != nil {
		return errorBody(c, http.StatusBadRequest, err)
	}
	res, err := h.svc.ProcessRefund(c.Request().Context(), req.AppointmentID)
	if err != nil {
		c.Logger().Errorf("process refund: %v", err)
		return errorBody(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"refundId": res.RefundID,
	})
}

func (h *Handler) Webhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return errorBody(c, http.StatusBadRequest, err)
	}
	event, err := h.svc.HandleWebhook(c.Request().Context(), payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		c.Logger().Warnf("payment webhook rejected: %v", err)
		return errorBody(c, http.StatusBadRequest, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"received": true, "type": event.Type})
}
