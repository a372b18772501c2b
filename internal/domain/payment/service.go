package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicportal/portal/internal/domain/scheduling"
)

var (
	ErrAppointmentRequired = errors.New("appointment ID is required")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSessionRequired     = errors.New("no session ID provided")
	ErrNoAppointmentInMeta = errors.New("no appointment ID found in session")
	ErrNotRefundable       = errors.New("appointment must be paid and cancelled to request refund")
	ErrNoPaymentSession    = errors.New("no payment session found for this appointment")
	ErrNoPaymentIntent     = errors.New("no payment intent found for this session")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrNotPayable          = errors.New("appointment is not awaiting payment")
)

// DefaultProductName labels a checkout line item without a service name.
const DefaultProductName = "Clinic Service"

// Appointments is the scheduling surface payments need.
type Appointments interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string, amount float64) (*scheduling.Appointment, error)
	MarkPaid(ctx context.Context, id uuid.UUID, sessionID string) (*scheduling.Appointment, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, refundID string, amount float64) (*scheduling.Appointment, error)
}

type Service struct {
	gateway      Gateway
	appointments Appointments
	currency     string
	logger       zerolog.Logger
}

func NewService(gateway Gateway, appointments Appointments, currency string, logger zerolog.Logger) *Service {
	if currency == "" {
		currency = "php"
	}
	return &Service{
		gateway:      gateway,
		appointments: appointments,
		currency:     strings.ToLower(currency),
		logger:       logger.With().Str("component", "payment").Logger(),
	}
}

// ToMinorUnits converts an amount to centavos.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts centavos back to an amount.
func FromMinorUnits(v int64) float64 {
	return float64(v) / 100
}

func parseAppointmentID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, ErrAppointmentRequired
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrAppointmentNotFound
	}
	return id, nil
}

func (s *Service) loadAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	a, err := s.appointments.Get(ctx, id)
	if errors.Is(err, scheduling.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

// CreatePaymentSession opens a checkout session for an appointment and
// returns its id. The session is stored on the appointment. A non-empty
// patientID must own the appointment.
func (s *Service) CreatePaymentSession(ctx context.Context, patientID, appointmentID string, amount float64, service, origin string) (string, error) {
	id, err := parseAppointmentID(appointmentID)
	if err != nil {
		return "", err
	}
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	a, err := s.loadAppointment(ctx, id)
	if err != nil {
		return "", err
	}
	if patientID != "" && a.PatientID != patientID {
		return "", scheduling.ErrForbidden
	}
	if a.PaymentStatus != scheduling.PaymentUnpaid {
		return "", ErrNotPayable
	}

	name := strings.TrimSpace(service)
	if name == "" {
		name = DefaultProductName
	}
	origin = strings.TrimRight(origin, "/")

	sess, err := s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		AppointmentID: id.String(),
		ProductName:   name,
		Currency:      s.currency,
		UnitAmount:    ToMinorUnits(amount),
		SuccessURL:    origin + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     origin + "/payment-cancelled",
	})
	if err != nil {
		return "", err
	}

	if _, err := s.appointments.SetPaymentSession(ctx, id, sess.ID, amount); err != nil {
		return "", fmt.Errorf("store payment session: %w", err)
	}
	s.logger.Info().Str("appointment_id", id.String()).Str("session_id", sess.ID).Msg("payment session created")
	return sess.ID, nil
}

// GetSession resolves a checkout session to its appointment id and
// records the payment when the session is paid.
func (s *Service) GetSession(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrSessionRequired
	}
	sess, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.AppointmentID == "" {
		return "", ErrNoAppointmentInMeta
	}
	if sess.IsPaid() {
		s.markPaid(ctx, sess)
	}
	return sess.AppointmentID, nil
}

// markPaid records a paid session. Failures are logged: the session lookup
// itself still succeeds.
func (s *Service) markPaid(ctx context.Context, sess *Session) {
	id, err := uuid.Parse(sess.AppointmentID)
	if err != nil {
		s.logger.Warn().Str("session_id", sess.ID).Str("appointment_id", sess.AppointmentID).Msg("paid session has invalid appointment id")
		return
	}
	if _, err := s.appointments.MarkPaid(ctx, id, sess.ID); err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Str("appointment_id", sess.AppointmentID).Msg("mark appointment paid failed")
		return
	}
	s.logger.Info().Str("session_id", sess.ID).Str("appointment_id", sess.AppointmentID).Msg("appointment paid")
}

// RefundResult is the outcome of a processed refund.
type RefundResult struct {
	RefundID    string
	Amount      float64
	Appointment *scheduling.Appointment
}

// ProcessRefund refunds a paid appointment whose cancellation was approved.
func (s *Service) ProcessRefund(ctx context.Context, appointmentID string) (*RefundResult, error) {
	id, err := parseAppointmentID(appointmentID)
	if err != nil {
		return nil, err
	}
	a, err := s.loadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.IsRefundable() {
		return nil, ErrNotRefundable
	}
	if a.PaymentSessionID == "" {
		return nil, ErrNoPaymentSession
	}

	sess, err := s.gateway.GetSession(ctx, a.PaymentSessionID)
	if err != nil {
		return nil, err
	}
	if sess.PaymentIntentID == "" {
		return nil, ErrNoPaymentIntent
	}

	refund, err := s.gateway.Refund(ctx, sess.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	amount := FromMinorUnits(refund.Amount)
	if amount == 0 {
		amount = a.Amount
	}

	updated, err := s.appointments.MarkRefunded(ctx, id, refund.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("record refund %s: %w", refund.ID, err)
	}
	s.logger.Info().Str("appointment_id", id.String()).Str("refund_id", refund.ID).Float64("amount", amount).Msg("refund processed")
	return &RefundResult{RefundID: refund.ID, Amount: amount, Appointment: updated}, nil
}

// HandleWebhook verifies a gateway event and applies completed checkouts.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return nil, err
	}
	switch event.Type {
	case EventCheckoutCompleted:
		if event.Session == nil || event.Session.AppointmentID == "" {
			s.logger.Warn().Str("event_id", event.ID).Msg("checkout event without appointment")
			break
		}
		s.markPaid(ctx, event.Session)
	default:
		s.logger.Debug().Str("event_id", event.ID).Str("type", event.Type).Msg("webhook event ignored")
	}
	return event, nil
}
