package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicportal/portal/internal/domain/catalog"
)

type Service struct {
	appointments AppointmentRepository
	schedules    ScheduleRepository
	catalog      *catalog.Catalog
	now          func() time.Time
}

func NewService(appts AppointmentRepository, sched ScheduleRepository, cat *catalog.Catalog) *Service {
	return &Service{appointments: appts, schedules: sched, catalog: cat, now: time.Now}
}

// invalidInput reports a request the client must correct.
func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func (s *Service) today() string {
	return s.now().Format(DateLayout)
}

func (s *Service) parseFutureDate(date string) (time.Time, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, invalidInput("invalid date %q, expected YYYY-MM-DD", date)
	}
	if date < s.today() {
		return time.Time{}, invalidInput("date %s is in the past", date)
	}
	return d, nil
}

// -- Availability --

// Defaults returns the stored schedule defaults, or every catalog slot with
// Sundays closed when none are stored.
func (s *Service) Defaults(ctx context.Context) (*ScheduleDefaults, error) {
	d, err := s.schedules.GetDefaults(ctx)
	if err != nil {
		return nil, err
	}
	if d == nil {
		d = &ScheduleDefaults{ClosedDays: []int{int(time.Sunday)}}
	}
	if len(d.Slots) == 0 {
		d.Slots = s.catalog.AllSlots()
	}
	return d, nil
}

func (s *Service) SaveDefaults(ctx context.Context, d *ScheduleDefaults) error {
	for _, slot := range d.Slots {
		if !s.catalog.IsSlot(slot) {
			return invalidInput("unknown slot %q", slot)
		}
	}
	for _, day := range d.ClosedDays {
		if day < 0 || day > 6 {
			return invalidInput("closed day must be 0-6, got %d", day)
		}
	}
	d.Slots = s.catalog.Sorted(d.Slots)
	return s.schedules.SaveDefaults(ctx, d)
}

func (s *Service) GetDaily(ctx context.Context, date string) (*DailySchedule, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, invalidInput("invalid date %q, expected YYYY-MM-DD", date)
	}
	return s.schedules.GetDaily(ctx, date)
}

func (s *Service) SaveDaily(ctx context.Context, d *DailySchedule) error {
	if _, err := time.Parse(DateLayout, d.Date); err != nil {
		return invalidInput("invalid date %q, expected YYYY-MM-DD", d.Date)
	}
	for _, slot := range d.Slots {
		if !s.catalog.IsSlot(slot) {
			return invalidInput("unknown slot %q", slot)
		}
	}
	d.Slots = s.catalog.Sorted(d.Slots)
	return s.schedules.SaveDaily(ctx, d)
}

func (s *Service) DeleteDaily(ctx context.Context, date string) error {
	return s.schedules.DeleteDaily(ctx, date)
}

// AvailableSlots lists the open slots of date in chronological order: the
// daily override or the defaults, minus closed days and slots already held.
func (s *Service) AvailableSlots(ctx context.Context, date string) ([]string, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, invalidInput("invalid date %q, expected YYYY-MM-DD", date)
	}

	var offered []string
	daily, err := s.schedules.GetDaily(ctx, date)
	if err != nil {
		return nil, err
	}
	if daily != nil {
		if daily.Closed {
			return []string{}, nil
		}
		offered = daily.Slots
	} else {
		defaults, err := s.Defaults(ctx)
		if err != nil {
			return nil, err
		}
		if defaults.IsClosedOn(day.Weekday()) {
			return []string{}, nil
		}
		offered = defaults.Slots
	}

	held, err := s.appointments.ListHoldingSlots(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load booked slots: %w", err)
	}
	taken := make(map[string]bool, len(held))
	for _, a := range held {
		if a.HoldsSlot() {
			taken[a.Time] = true
		}
	}

	free := make([]string, 0, len(offered))
	for _, slot := range offered {
		if !taken[slot] {
			free = append(free, slot)
		}
	}
	return s.catalog.Sorted(free), nil
}

func (s *Service) isAvailable(ctx context.Context, date, slot string) (bool, error) {
	free, err := s.AvailableSlots(ctx, date)
	if err != nil {
		return false, err
	}
	for _, f := range free {
		if f == slot {
			return true, nil
		}
	}
	return false, nil
}

// -- Appointments --

// Book validates a request from patientID and stores it as Pending.
func (s *Service) Book(ctx context.Context, patientID string, a *Appointment) error {
	if patientID == "" {
		return invalidInput("patient_id is required")
	}
	a.PatientID = patientID
	a.PatientName = strings.TrimSpace(a.PatientName)
	if !s.catalog.HasService(a.Service) {
		return invalidInput("unknown service %q", a.Service)
	}
	if !s.catalog.HasSubService(a.Service, a.SubService) {
		return invalidInput("unknown sub_service %q for %s", a.SubService, a.Service)
	}
	if _, err := s.parseFutureDate(a.Date); err != nil {
		return err
	}
	if !s.catalog.IsSlot(a.Time) {
		return invalidInput("unknown time slot %q", a.Time)
	}
	if a.Amount < 0 {
		return invalidInput("amount must not be negative")
	}

	ok, err := s.isAvailable(ctx, a.Date, a.Time)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSlotUnavailable
	}

	a.Status = StatusPending
	a.CancellationStatus = CancellationNone
	a.CancellationReason = ""
	a.PaymentStatus = PaymentUnpaid
	a.PaymentSessionID = ""
	return s.appointments.Create(ctx, a)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// GetOwned returns the appointment when it belongs to patientID.
func (s *Service) GetOwned(ctx context.Context, id uuid.UUID, patientID string) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.PatientID != patientID {
		return nil, ErrForbidden
	}
	return a, nil
}

func (s *Service) GetByPaymentSession(ctx context.Context, sessionID string) (*Appointment, error) {
	return s.appointments.GetByPaymentSession(ctx, sessionID)
}

// ListByPatient returns the patient's appointments, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	if st, ok := params["status"]; ok {
		params["status"] = NormalizeStatus(st)
	}
	if cs, ok := params["cancellation_status"]; ok {
		params["cancellation_status"] = NormalizeCancellation(cs)
	}
	return s.appointments.Search(ctx, params, limit, offset)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, apply func(a *Appointment) error) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(a); err != nil {
		return nil, err
	}
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func invalid(a *Appointment, action string) error {
	return fmt.Errorf("%w: cannot %s appointment in status %q (cancellation %q)",
		ErrInvalidTransition, action, a.Status, a.CancellationStatus)
}

func statusIn(a *Appointment, statuses ...string) bool {
	current := NormalizeStatus(a.Status)
	for _, st := range statuses {
		if current == st {
			return true
		}
	}
	return false
}

func (s *Service) Accept(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, func(a *Appointment) error {
		if !statusIn(a, StatusPending, StatusRescheduled) {
			return invalid(a, "accept")
		}
		a.Status = StatusAccepted
		return nil
	})
}

func (s *Service) Decline(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, func(a *Appointment) error {
		if !statusIn(a, StatusPending, StatusRescheduled) {
			return invalid(a, "decline")
		}
		a.Status = StatusDecline
		return nil
	})
}

// Reschedule moves the appointment to a new date and slot.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date, slot string) (*Appointment, error) {
	if _, err := s.parseFutureDate(date); err != nil {
		return nil, err
	}
	if !s.catalog.IsSlot(slot) {
		return nil, invalidInput("unknown time slot %q", slot)
	}
	return s.transition(ctx, id, func(a *Appointment) error {
		if !statusIn(a, StatusPending, StatusAccepted, StatusRescheduled) || a.CancellationStatus == CancellationApproved {
			return invalid(a, "reschedule")
		}
		if a.Date != date || a.Time != slot {
			ok, err := s.isAvailable(ctx, date, slot)
			if err != nil {
				return err
			}
			if !ok {
				return ErrSlotUnavailable
			}
		}
		a.Date, a.Time = date, slot
		a.Status = StatusRescheduled
		return nil
	})
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, func(a *Appointment) error {
		if !statusIn(a, StatusAccepted, StatusRescheduled) {
			return invalid(a, "complete")
		}
		a.Status = StatusCompleted
		return nil
	})
}

// RequestCancellation records the patient's request to cancel.
func (s *Service) RequestCancellation(ctx context.Context, id uuid.UUID, patientID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, func(a *Appointment) error {
		if a.PatientID != patientID {
			return ErrForbidden
		}
		if statusIn(a, StatusDecline, StatusCompleted) {
			return invalid(a, "cancel")
		}
		if a.CancellationStatus != CancellationNone && a.CancellationStatus != CancellationDeclined {
			return invalid(a, "cancel")
		}
		a.CancellationStatus = CancellationRequested
		a.CancellationReason = strings.TrimSpace(reason)
		return nil
	})
}

func (s *Service) ApproveCancellation(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, func(a *Appointment) error {
		if a.CancellationStatus != CancellationRequested {
			return invalid(a, "approve cancellation of")
		}
		a.CancellationStatus = CancellationApproved
		return nil
	})
}

func (s *Service) DeclineCancellation(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, func(a *Appointment) error {
		if a.CancellationStatus != CancellationRequested {
			return invalid(a, "decline cancellation of")
		}
		a.CancellationStatus = CancellationDeclined
		return nil
	})
}

// SetPaymentSession remembers the checkout session opened for the
// appointment. amount is the charged amount in pesos.
func (s *Service) SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string, amount float64) (*Appointment, error) {
	return s.transition(ctx, id, func(a *Appointment) error {
		if a.PaymentStatus != PaymentUnpaid {
			return invalid(a, "open a payment session for")
		}
		a.PaymentSessionID = sessionID
		if amount > 0 {
			a.Amount = amount
		}
		return nil
	})
}

// MarkPaid records a completed payment. Marking an already paid
// appointment is a no-op.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, sessionID string) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch a.PaymentStatus {
	case PaymentPaid:
		return a, nil
	case PaymentRefunded:
		return nil, invalid(a, "mark paid")
	}
	a.PaymentStatus = PaymentPaid
	if sessionID != "" {
		a.PaymentSessionID = sessionID
	}
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// MarkRefunded records a refund. Only paid appointments whose cancellation
// was approved can be refunded.
func (s *Service) MarkRefunded(ctx context.Context, id uuid.UUID, refundID string, amount float64) (*Appointment, error) {
	return s.transition(ctx, id, func(a *Appointment) error {
		if !a.IsRefundable() {
			return invalid(a, "refund")
		}
		now := s.now().UTC()
		a.PaymentStatus = PaymentRefunded
		a.RefundID = refundID
		a.RefundAmount = amount
		a.RefundDate = &now
		return nil
	})
}
