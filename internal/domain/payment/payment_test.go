package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicportal/portal/internal/domain/scheduling"
	"github.com/clinicportal/portal/internal/platform/auth"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeGateway struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	created   []CheckoutRequest
	refunds   []string
	refundAmt int64
	event     *WebhookEvent
	err       error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*Session)}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.created = append(g.created, req)
	s := &Session{ID: "cs_test_" + req.AppointmentID[:8], AppointmentID: req.AppointmentID, PaymentStatus: "unpaid"}
	g.sessions[s.ID] = s
	return s, nil
}

func (g *fakeGateway) GetSession(_ context.Context, id string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	s, ok := g.sessions[id]
	if !ok {
		return nil, errors.New("retrieve checkout session: No such checkout.session: " + id)
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) Refund(_ context.Context, paymentIntentID string) (*Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.refunds = append(g.refunds, paymentIntentID)
	return &Refund{ID: "re_test_1", Amount: g.refundAmt}, nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if signature != "valid" {
		return nil, errors.New("verify webhook: signature mismatch")
	}
	return g.event, nil
}

type fakeAppointments struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*scheduling.Appointment
}

func newFakeAppointments(appts ...*scheduling.Appointment) *fakeAppointments {
	f := &fakeAppointments{appts: make(map[uuid.UUID]*scheduling.Appointment)}
	for _, a := range appts {
		f.appts[a.ID] = a
	}
	return f
}

func (f *fakeAppointments) Get(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAppointments) SetPaymentSession(_ context.Context, id uuid.UUID, sessionID string, amount float64) (*scheduling.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	if a.PaymentStatus != scheduling.PaymentUnpaid {
		return nil, scheduling.ErrInvalidTransition
	}
	a.PaymentSessionID = sessionID
	a.Amount = amount
	return a, nil
}

func (f *fakeAppointments) MarkPaid(_ context.Context, id uuid.UUID, sessionID string) (*scheduling.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	a.PaymentStatus = scheduling.PaymentPaid
	a.PaymentSessionID = sessionID
	return a, nil
}

func (f *fakeAppointments) MarkRefunded(_ context.Context, id uuid.UUID, refundID string, amount float64) (*scheduling.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	if !a.IsRefundable() {
		return nil, scheduling.ErrInvalidTransition
	}
	a.PaymentStatus = scheduling.PaymentRefunded
	a.RefundID = refundID
	a.RefundAmount = amount
	return a, nil
}

func unpaidAppointment() *scheduling.Appointment {
	return &scheduling.Appointment{
		ID:            uuid.New(),
		PatientID:     "uid-patient-1",
		Service:       "Consultation",
		Status:        scheduling.StatusAccepted,
		PaymentStatus: scheduling.PaymentUnpaid,
	}
}

func refundableAppointment(sessionID string) *scheduling.Appointment {
	a := unpaidAppointment()
	a.PaymentStatus = scheduling.PaymentPaid
	a.CancellationStatus = scheduling.CancellationApproved
	a.PaymentSessionID = sessionID
	a.Amount = 1500
	return a
}

func newTestService(gw Gateway, appts Appointments) *Service {
	return NewService(gw, appts, "PHP", zerolog.Nop())
}

// ---------------------------------------------------------------------------
// Service Tests
// ---------------------------------------------------------------------------

func TestMinorUnits(t *testing.T) {
	if ToMinorUnits(1500) != 150000 {
		t.Errorf("expected 150000, got %d", ToMinorUnits(1500))
	}
	if ToMinorUnits(19.99) != 1999 {
		t.Errorf("expected rounding to 1999, got %d", ToMinorUnits(19.99))
	}
	if FromMinorUnits(75050) != 750.5 {
		t.Errorf("expected 750.5, got %v", FromMinorUnits(75050))
	}
}

func TestCreatePaymentSession(t *testing.T) {
	a := unpaidAppointment()
	gw := newFakeGateway()
	appts := newFakeAppointments(a)
	svc := newTestService(gw, appts)

	id, err := svc.CreatePaymentSession(context.Background(), a.PatientID, a.ID.String(), 1500, "", "https://portal.example/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.created) != 1 {
		t.Fatalf("expected one checkout session, got %d", len(gw.created))
	}
	req := gw.created[0]
	if req.ProductName != DefaultProductName || req.UnitAmount != 150000 || req.Currency != "php" {
		t.Errorf("unexpected checkout request %+v", req)
	}
	if req.SuccessURL != "https://portal.example/payment-success?session_id={CHECKOUT_SESSION_ID}" {
		t.Errorf("unexpected success url %q", req.SuccessURL)
	}
	if req.CancelURL != "https://portal.example/payment-cancelled" {
		t.Errorf("unexpected cancel url %q", req.CancelURL)
	}
	if appts.appts[a.ID].PaymentSessionID != id {
		t.Errorf("expected session stored on appointment")
	}
}

func TestCreatePaymentSession_Validation(t *testing.T) {
	a := unpaidAppointment()
	svc := newTestService(newFakeGateway(), newFakeAppointments(a))
	ctx := context.Background()

	tests := []struct {
		name    string
		patient string
		id      string
		amount  float64
		want    error
	}{
		{"missing id", "", "", 100, ErrAppointmentRequired},
		{"bad amount", "", a.ID.String(), 0, ErrInvalidAmount},
		{"unknown", "", uuid.NewString(), 100, ErrAppointmentNotFound},
		{"malformed", "", "abc", 100, ErrAppointmentNotFound},
		{"not owner", "uid-other", a.ID.String(), 100, scheduling.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreatePaymentSession(ctx, tt.patient, tt.id, tt.amount, "X", "http://o")
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreatePaymentSession_PaidAppointmentSkipsGateway(t *testing.T) {
	a := refundableAppointment("cs_test_old")
	gw := newFakeGateway()
	svc := newTestService(gw, newFakeAppointments(a))

	_, err := svc.CreatePaymentSession(context.Background(), a.PatientID, a.ID.String(), 1500, "", "http://o")
	if !errors.Is(err, ErrNotPayable) {
		t.Fatalf("expected ErrNotPayable, got %v", err)
	}
	if statusFor(err) != http.StatusConflict {
		t.Errorf("expected 409, got %d", statusFor(err))
	}
	if len(gw.created) != 0 {
		t.Errorf("expected no checkout session at the gateway, got %d", len(gw.created))
	}
}

func TestCreatePaymentSession_GatewayError(t *testing.T) {
	a := unpaidAppointment()
	gw := newFakeGateway()
	gw.err = errors.New("create checkout session: Invalid API Key provided")
	svc := newTestService(gw, newFakeAppointments(a))

	_, err := svc.CreatePaymentSession(context.Background(), "", a.ID.String(), 100, "X", "http://o")
	if err == nil || statusFor(err) != http.StatusInternalServerError {
		t.Fatalf("expected gateway error mapped to 500, got %v", err)
	}
}

func TestGetSession(t *testing.T) {
	a := unpaidAppointment()
	gw := newFakeGateway()
	appts := newFakeAppointments(a)
	svc := newTestService(gw, appts)
	ctx := context.Background()

	if _, err := svc.GetSession(ctx, ""); !errors.Is(err, ErrSessionRequired) {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}

	gw.sessions["cs_nometa"] = &Session{ID: "cs_nometa"}
	if _, err := svc.GetSession(ctx, "cs_nometa"); !errors.Is(err, ErrNoAppointmentInMeta) {
		t.Fatalf("expected ErrNoAppointmentInMeta, got %v", err)
	}

	gw.sessions["cs_open"] = &Session{ID: "cs_open", AppointmentID: a.ID.String(), PaymentStatus: "unpaid"}
	got, err := svc.GetSession(ctx, "cs_open")
	if err != nil || got != a.ID.String() {
		t.Fatalf("unexpected %q %v", got, err)
	}
	if appts.appts[a.ID].PaymentStatus != scheduling.PaymentUnpaid {
		t.Error("expected unpaid session to leave the appointment unpaid")
	}

	gw.sessions["cs_paid"] = &Session{ID: "cs_paid", AppointmentID: a.ID.String(), PaymentStatus: "paid"}
	if _, err := svc.GetSession(ctx, "cs_paid"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appts.appts[a.ID].PaymentStatus != scheduling.PaymentPaid {
		t.Error("expected paid session to mark the appointment paid")
	}
}

func TestProcessRefund(t *testing.T) {
	a := refundableAppointment("cs_paid")
	gw := newFakeGateway()
	gw.sessions["cs_paid"] = &Session{ID: "cs_paid", AppointmentID: a.ID.String(), PaymentStatus: "paid", PaymentIntentID: "pi_1"}
	gw.refundAmt = 150000
	appts := newFakeAppointments(a)
	svc := newTestService(gw, appts)

	res, err := svc.ProcessRefund(context.Background(), a.ID.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RefundID != "re_test_1" || res.Amount != 1500 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(gw.refunds) != 1 || gw.refunds[0] != "pi_1" {
		t.Errorf("expected refund of pi_1, got %v", gw.refunds)
	}
	stored := appts.appts[a.ID]
	if stored.PaymentStatus != scheduling.PaymentRefunded || stored.RefundID != "re_test_1" || stored.RefundAmount != 1500 {
		t.Errorf("unexpected appointment %+v", stored)
	}
}

func TestProcessRefund_FallsBackToAppointmentAmount(t *testing.T) {
	a := refundableAppointment("cs_paid")
	gw := newFakeGateway()
	gw.sessions["cs_paid"] = &Session{ID: "cs_paid", PaymentIntentID: "pi_1"}
	svc := newTestService(gw, newFakeAppointments(a))

	res, err := svc.ProcessRefund(context.Background(), a.ID.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Amount != 1500 {
		t.Errorf("expected appointment amount, got %v", res.Amount)
	}
}

func TestProcessRefund_Rejections(t *testing.T) {
	notCancelled := refundableAppointment("cs_x")
	notCancelled.CancellationStatus = scheduling.CancellationRequested
	noSession := refundableAppointment("")
	noIntent := refundableAppointment("cs_nointent")

	gw := newFakeGateway()
	gw.sessions["cs_nointent"] = &Session{ID: "cs_nointent"}
	svc := newTestService(gw, newFakeAppointments(notCancelled, noSession, noIntent))

	tests := []struct {
		name   string
		id     string
		want   error
		status int
	}{
		{"missing", "", ErrAppointmentRequired, http.StatusBadRequest},
		{"unknown", uuid.NewString(), ErrAppointmentNotFound, http.StatusNotFound},
		{"not refundable", notCancelled.ID.String(), ErrNotRefundable, http.StatusBadRequest},
		{"no session", noSession.ID.String(), ErrNoPaymentSession, http.StatusBadRequest},
		{"no intent", noIntent.ID.String(), ErrNoPaymentIntent, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ProcessRefund(context.Background(), tt.id)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if statusFor(err) != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, statusFor(err))
			}
		})
	}
	if len(gw.refunds) != 0 {
		t.Errorf("expected no refunds, got %v", gw.refunds)
	}
}

func TestHandleWebhook(t *testing.T) {
	a := unpaidAppointment()
	gw := newFakeGateway()
	gw.event = &WebhookEvent{
		ID:      "evt_1",
		Type:    EventCheckoutCompleted,
		Session: &Session{ID: "cs_1", AppointmentID: a.ID.String(), PaymentStatus: "paid"},
	}
	appts := newFakeAppointments(a)
	svc := newTestService(gw, appts)

	if _, err := svc.HandleWebhook(context.Background(), []byte("{}"), "forged"); err == nil {
		t.Fatal("expected signature error")
	}
	if appts.appts[a.ID].PaymentStatus != scheduling.PaymentUnpaid {
		t.Fatal("expected forged event to be ignored")
	}

	ev, err := svc.HandleWebhook(context.Background(), []byte("{}"), "valid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != EventCheckoutCompleted {
		t.Errorf("unexpected event %+v", ev)
	}
	if appts.appts[a.ID].PaymentStatus != scheduling.PaymentPaid || appts.appts[a.ID].PaymentSessionID != "cs_1" {
		t.Errorf("expected appointment paid, got %+v", appts.appts[a.ID])
	}
}

// ---------------------------------------------------------------------------
// Handler Tests
// ---------------------------------------------------------------------------

func withPatient(req *http.Request, uid string) *http.Request {
	ctx := auth.WithIdentity(req.Context(), auth.Identity{UserID: uid, Roles: []string{auth.RolePatient}})
	return req.WithContext(ctx)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestHandler_CreatePaymentSession(t *testing.T) {
	a := unpaidAppointment()
	gw := newFakeGateway()
	h := NewHandler(newTestService(gw, newFakeAppointments(a)), "")
	e := echo.New()

	body := `{"appointmentId":"` + a.ID.String() + `","amount":500,"service":"Cleaning"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/session", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Origin", "https://portal.example")
	req = withPatient(req, a.PatientID)
	rec := httptest.NewRecorder()

	if err := h.CreatePaymentSession(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["id"] == "" {
		t.Error("expected session id")
	}
	if gw.created[0].ProductName != "Cleaning" || !strings.HasPrefix(gw.created[0].SuccessURL, "https://portal.example/") {
		t.Errorf("unexpected checkout %+v", gw.created[0])
	}
}

func TestHandler_CreatePaymentSession_BaseURLFallback(t *testing.T) {
	a := unpaidAppointment()
	gw := newFakeGateway()
	h := NewHandler(newTestService(gw, newFakeAppointments(a)), "https://clinic.example")
	e := echo.New()

	body := `{"appointmentId":"` + a.ID.String() + `","amount":500}`
	req := httptest.NewRequest(http.MethodPost, "/payments/session", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withPatient(req, a.PatientID)
	rec := httptest.NewRecorder()

	if err := h.CreatePaymentSession(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gw.created[0].CancelURL != "https://clinic.example/payment-cancelled" {
		t.Errorf("expected configured base url, got %q", gw.created[0].CancelURL)
	}
}

func TestHandler_CreatePaymentSession_Missing(t *testing.T) {
	h := NewHandler(newTestService(newFakeGateway(), newFakeAppointments()), "")
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/payments/session", strings.NewReader(`{"amount":500}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withPatient(req, "uid-1")
	rec := httptest.NewRecorder()

	if err := h.CreatePaymentSession(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if decodeBody(t, rec)["error"] != ErrAppointmentRequired.Error() {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_GetSession(t *testing.T) {
	a := unpaidAppointment()
	gw := newFakeGateway()
	gw.sessions["cs_1"] = &Session{ID: "cs_1", AppointmentID: a.ID.String()}
	h := NewHandler(newTestService(gw, newFakeAppointments(a)), "")
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/payments/session?session_id=cs_1", nil)
	rec := httptest.NewRecorder()
	if err := h.GetSession(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decodeBody(t, rec)["appointmentId"] != a.ID.String() {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/payments/session", nil)
	rec = httptest.NewRecorder()
	_ = h.GetSession(e.NewContext(req, rec))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without session id, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/payments/session?session_id=cs_missing", nil)
	rec = httptest.NewRecorder()
	_ = h.GetSession(e.NewContext(req, rec))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for gateway error, got %d", rec.Code)
	}
}

func TestHandler_ProcessRefund(t *testing.T) {
	a := refundableAppointment("cs_paid")
	gw := newFakeGateway()
	gw.sessions["cs_paid"] = &Session{ID: "cs_paid", PaymentIntentID: "pi_1"}
	gw.refundAmt = 150000
	h := NewHandler(newTestService(gw, newFakeAppointments(a)), "")
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/admin/payments/refund", strings.NewReader(`{"appointmentId":"`+a.ID.String()+`"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.ProcessRefund(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["refundId"] != "re_test_1" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHandler_Webhook(t *testing.T) {
	a := unpaidAppointment()
	gw := newFakeGateway()
	gw.event = &WebhookEvent{ID: "evt_1", Type: "payment_intent.created"}
	h := NewHandler(newTestService(gw, newFakeAppointments(a)), "")
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "valid")
	rec := httptest.NewRecorder()
	if err := h.Webhook(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "bad")
	rec = httptest.NewRecorder()
	_ = h.Webhook(e.NewContext(req, rec))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad signature, got %d", rec.Code)
	}
}
