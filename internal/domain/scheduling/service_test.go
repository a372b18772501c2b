package scheduling

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicportal/portal/internal/domain/catalog"
)

// -- Mock Repositories --

type mockAppointmentRepo struct {
	mu        sync.Mutex
	appts     map[uuid.UUID]*Appointment
	seq       int
	createErr error
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if a.HoldsSlot() {
		for _, other := range m.appts {
			if other.HoldsSlot() && other.Date == a.Date && other.Time == a.Time {
				return ErrSlotUnavailable
			}
		}
	}
	m.seq++
	a.ID = uuid.New()
	a.CreatedAt = time.Date(2026, 1, 1, 0, 0, m.seq, 0, time.UTC)
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) GetByPaymentSession(_ context.Context, sessionID string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.PaymentSessionID == sessionID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) sorted(keep func(*Appointment) bool) []*Appointment {
	var out []*Appointment
	for _, a := range m.appts {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func page(items []*Appointment, limit, offset int) []*Appointment {
	if offset >= len(items) {
		return []*Appointment{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (m *mockAppointmentRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(a *Appointment) bool { return a.PatientID == patientID })
	return page(all, limit, offset), len(all), nil
}

func (m *mockAppointmentRepo) ListHoldingSlots(_ context.Context, date string) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(a *Appointment) bool { return a.Date == date && a.HoldsSlot() }), nil
}

func (m *mockAppointmentRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(a *Appointment) bool {
		if v, ok := params["status"]; ok && a.Status != v {
			return false
		}
		if v, ok := params["date"]; ok && a.Date != v {
			return false
		}
		if v, ok := params["cancellation_status"]; ok && a.CancellationStatus != v {
			return false
		}
		return true
	})
	return page(all, limit, offset), len(all), nil
}

type mockScheduleRepo struct {
	defaults *ScheduleDefaults
	daily    map[string]*DailySchedule
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{daily: make(map[string]*DailySchedule)}
}

func (m *mockScheduleRepo) GetDefaults(_ context.Context) (*ScheduleDefaults, error) {
	if m.defaults == nil {
		return nil, nil
	}
	cp := *m.defaults
	return &cp, nil
}

func (m *mockScheduleRepo) SaveDefaults(_ context.Context, d *ScheduleDefaults) error {
	cp := *d
	m.defaults = &cp
	return nil
}

func (m *mockScheduleRepo) GetDaily(_ context.Context, date string) (*DailySchedule, error) {
	return m.daily[date], nil
}

func (m *mockScheduleRepo) SaveDaily(_ context.Context, d *DailySchedule) error {
	cp := *d
	m.daily[d.Date] = &cp
	return nil
}

func (m *mockScheduleRepo) DeleteDaily(_ context.Context, date string) error {
	delete(m.daily, date)
	return nil
}

// 2026-03-02 is a Monday.
var testNow = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

const (
	monday = "2026-03-02"
	sunday = "2026-03-08"
)

func newTestService() (*Service, *mockAppointmentRepo, *mockScheduleRepo) {
	appts := newMockAppointmentRepo()
	sched := newMockScheduleRepo()
	svc := NewService(appts, sched, catalog.Default())
	svc.now = func() time.Time { return testNow }
	return svc, appts, sched
}

func bookTestAppointment(t *testing.T, svc *Service, patient, date, slot string) *Appointment {
	t.Helper()
	a := &Appointment{Service: "Laboratory", SubService: "CBC", Date: date, Time: slot, PatientName: "Ana Reyes", Amount: 500}
	if err := svc.Book(context.Background(), patient, a); err != nil {
		t.Fatalf("Book: %v", err)
	}
	return a
}

// -- Availability --

func TestAvailableSlots_DefaultsToCatalog(t *testing.T) {
	svc, _, _ := newTestService()
	slots, err := svc.AvailableSlots(context.Background(), monday)
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if !reflect.DeepEqual(slots, catalog.Default().AllSlots()) {
		t.Errorf("unexpected slots %v", slots)
	}
}

func TestAvailableSlots_SundayClosedByDefault(t *testing.T) {
	svc, _, _ := newTestService()
	slots, err := svc.AvailableSlots(context.Background(), sunday)
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no slots on Sunday, got %v", slots)
	}
}

func TestAvailableSlots_DailyOverride(t *testing.T) {
	svc, _, sched := newTestService()
	sched.daily[sunday] = &DailySchedule{Date: sunday, Slots: []string{"10:00 AM", "8:00 AM"}}
	sched.daily[monday] = &DailySchedule{Date: monday, Closed: true}

	slots, _ := svc.AvailableSlots(context.Background(), sunday)
	if !reflect.DeepEqual(slots, []string{"8:00 AM", "10:00 AM"}) {
		t.Errorf("unexpected override slots %v", slots)
	}
	slots, _ = svc.AvailableSlots(context.Background(), monday)
	if len(slots) != 0 {
		t.Errorf("expected closed day, got %v", slots)
	}
}

func TestAvailableSlots_ExcludesHeldSlots(t *testing.T) {
	svc, _, sched := newTestService()
	sched.defaults = &ScheduleDefaults{Slots: []string{"8:00 AM", "9:00 AM", "10:00 AM"}, ClosedDays: []int{0}}

	a := bookTestAppointment(t, svc, "p1", monday, "9:00 AM")
	b := bookTestAppointment(t, svc, "p2", monday, "10:00 AM")

	slots, _ := svc.AvailableSlots(context.Background(), monday)
	if !reflect.DeepEqual(slots, []string{"8:00 AM"}) {
		t.Fatalf("expected only 8:00 AM free, got %v", slots)
	}

	// A declined request and an approved cancellation free their slots.
	if _, err := svc.Decline(context.Background(), a.ID); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if _, err := svc.RequestCancellation(context.Background(), b.ID, "p2", "sick"); err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}
	if _, err := svc.ApproveCancellation(context.Background(), b.ID); err != nil {
		t.Fatalf("ApproveCancellation: %v", err)
	}
	slots, _ = svc.AvailableSlots(context.Background(), monday)
	if len(slots) != 3 {
		t.Errorf("expected all slots free again, got %v", slots)
	}
}

func TestAvailableSlots_InvalidDate(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.AvailableSlots(context.Background(), "03/02/2026"); err == nil {
		t.Fatal("expected error for invalid date")
	}
}

func TestSaveDefaults_Validation(t *testing.T) {
	svc, _, sched := newTestService()
	ctx := context.Background()

	if err := svc.SaveDefaults(ctx, &ScheduleDefaults{Slots: []string{"7:00 PM"}}); err == nil {
		t.Error("expected error for unknown slot")
	}
	if err := svc.SaveDefaults(ctx, &ScheduleDefaults{ClosedDays: []int{7}}); err == nil {
		t.Error("expected error for bad weekday")
	}
	if err := svc.SaveDefaults(ctx, &ScheduleDefaults{Slots: []string{"2:00 PM", "8:00 AM"}, ClosedDays: []int{0, 6}}); err != nil {
		t.Fatalf("SaveDefaults: %v", err)
	}
	if !reflect.DeepEqual(sched.defaults.Slots, []string{"8:00 AM", "2:00 PM"}) {
		t.Errorf("expected slots stored in order, got %v", sched.defaults.Slots)
	}
}

// -- Booking --

func TestBook(t *testing.T) {
	svc, appts, _ := newTestService()
	a := bookTestAppointment(t, svc, "p1", monday, "8:00 AM")

	if a.ID == uuid.Nil {
		t.Fatal("expected id assigned")
	}
	stored := appts.appts[a.ID]
	if stored.Status != StatusPending || stored.PaymentStatus != PaymentUnpaid || stored.CancellationStatus != CancellationNone {
		t.Errorf("unexpected initial state %+v", stored)
	}
	if stored.PatientID != "p1" {
		t.Errorf("expected patient p1, got %s", stored.PatientID)
	}
}

func TestBook_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	tests := []struct {
		name string
		appt Appointment
	}{
		{"unknown service", Appointment{Service: "Dental", Date: monday, Time: "8:00 AM"}},
		{"wrong sub-service", Appointment{Service: "Imaging", SubService: "CBC", Date: monday, Time: "8:00 AM"}},
		{"past date", Appointment{Service: "Imaging", SubService: "X-ray", Date: "2026-03-01", Time: "8:00 AM"}},
		{"bad date", Appointment{Service: "Imaging", SubService: "X-ray", Date: "tomorrow", Time: "8:00 AM"}},
		{"unknown slot", Appointment{Service: "Imaging", SubService: "X-ray", Date: monday, Time: "7:30 AM"}},
		{"negative amount", Appointment{Service: "Imaging", SubService: "X-ray", Date: monday, Time: "8:00 AM", Amount: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.appt
			if err := svc.Book(context.Background(), "p1", &a); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestBook_SlotTaken(t *testing.T) {
	svc, _, _ := newTestService()
	bookTestAppointment(t, svc, "p1", monday, "8:00 AM")

	a := &Appointment{Service: "Imaging", SubService: "ECG", Date: monday, Time: "8:00 AM"}
	if err := svc.Book(context.Background(), "p2", a); !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("expected ErrSlotUnavailable, got %v", err)
	}
	a.Date = sunday
	if err := svc.Book(context.Background(), "p2", a); !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("expected closed Sunday to be unavailable, got %v", err)
	}
}

// -- Transitions --

func TestTransitions_HappyPath(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	a := bookTestAppointment(t, svc, "p1", monday, "8:00 AM")

	got, err := svc.Accept(ctx, a.ID)
	if err != nil || got.Status != StatusAccepted {
		t.Fatalf("Accept = %+v, %v", got, err)
	}
	got, err = svc.Reschedule(ctx, a.ID, "2026-03-03", "1:00 PM")
	if err != nil || got.Status != StatusRescheduled || got.Date != "2026-03-03" || got.Time != "1:00 PM" {
		t.Fatalf("Reschedule = %+v, %v", got, err)
	}
	got, err = svc.Complete(ctx, a.ID)
	if err != nil || got.Status != StatusCompleted {
		t.Fatalf("Complete = %+v, %v", got, err)
	}
}

func TestTransitions_Invalid(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	a := bookTestAppointment(t, svc, "p1", monday, "8:00 AM")

	if _, err := svc.Complete(ctx, a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("complete pending: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.ApproveCancellation(ctx, a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("approve without request: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.Decline(ctx, a.ID); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if _, err := svc.Accept(ctx, a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("accept declined: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.RequestCancellation(ctx, a.ID, "p1", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel declined: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.Accept(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitions_LegacyStatus(t *testing.T) {
	svc, appts, _ := newTestService()
	a := bookTestAppointment(t, svc, "p1", monday, "8:00 AM")
	appts.appts[a.ID].Status = "confirmed"

	got, err := svc.Complete(context.Background(), a.ID)
	if err != nil || got.Status != StatusCompleted {
		t.Errorf("expected legacy confirmed to complete, got %+v, %v", got, err)
	}
}

func TestReschedule_SlotTaken(t *testing.T) {
	svc, _, _ := newTestService()
	a := bookTestAppointment(t, svc, "p1", monday, "8:00 AM")
	bookTestAppointment(t, svc, "p2", monday, "9:00 AM")

	if _, err := svc.Reschedule(context.Background(), a.ID, monday, "9:00 AM"); !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("expected ErrSlotUnavailable, got %v", err)
	}
	if _, err := svc.Reschedule(context.Background(), a.ID, monday, "8:00 AM"); err != nil {
		t.Errorf("rescheduling onto its own slot should succeed: %v", err)
	}
}

func TestCancellationFlow(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	a := bookTestAppointment(t, svc, "p1", monday, "8:00 AM")

	if _, err := svc.RequestCancellation(ctx, a.ID, "p2", "not mine"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for other patient, got %v", err)
	}
	got, err := svc.RequestCancellation(ctx, a.ID, "p1", "  travelling  ")
	if err != nil || got.CancellationStatus != CancellationRequested || got.CancellationReason != "travelling" {
		t.Fatalf("RequestCancellation = %+v, %v", got, err)
	}
	if _, err := svc.RequestCancellation(ctx, a.ID, "p1", "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected duplicate request rejected, got %v", err)
	}
	got, err = svc.DeclineCancellation(ctx, a.ID)
	if err != nil || got.CancellationStatus != CancellationDeclined {
		t.Fatalf("DeclineCancellation = %+v, %v", got, err)
	}
	if _, err := svc.RequestCancellation(ctx, a.ID, "p1", "retry"); err != nil {
		t.Errorf("re-request after decline should be allowed: %v", err)
	}
}

// -- Payments --

func TestPaymentFlow(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	a := bookTestAppointment(t, svc, "p1", monday, "8:00 AM")

	if _, err := svc.SetPaymentSession(ctx, a.ID, "cs_test_1", 750); err != nil {
		t.Fatalf("SetPaymentSession: %v", err)
	}
	found, err := svc.GetByPaymentSession(ctx, "cs_test_1")
	if err != nil || found.ID != a.ID || found.Amount != 750 {
		t.Fatalf("GetByPaymentSession = %+v, %v", found, err)
	}

	if _, err := svc.MarkRefunded(ctx, a.ID, "re_1", 750); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("refund of unpaid: expected ErrInvalidTransition, got %v", err)
	}

	paid, err := svc.MarkPaid(ctx, a.ID, "")
	if err != nil || paid.PaymentStatus != PaymentPaid || paid.PaymentSessionID != "cs_test_1" {
		t.Fatalf("MarkPaid = %+v, %v", paid, err)
	}
	if _, err := svc.MarkPaid(ctx, a.ID, "cs_test_1"); err != nil {
		t.Errorf("second MarkPaid should be a no-op: %v", err)
	}
	if _, err := svc.SetPaymentSession(ctx, a.ID, "cs_test_2", 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("new session for paid appointment: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := svc.MarkRefunded(ctx, a.ID, "re_1", 750); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("refund without approved cancellation: expected ErrInvalidTransition, got %v", err)
	}
	_, _ = svc.RequestCancellation(ctx, a.ID, "p1", "")
	_, _ = svc.ApproveCancellation(ctx, a.ID)

	refunded, err := svc.MarkRefunded(ctx, a.ID, "re_1", 750)
	if err != nil {
		t.Fatalf("MarkRefunded: %v", err)
	}
	if refunded.PaymentStatus != PaymentRefunded || refunded.RefundID != "re_1" || refunded.RefundAmount != 750 {
		t.Errorf("unexpected refund state %+v", refunded)
	}
	if refunded.RefundDate == nil || !refunded.RefundDate.Equal(testNow) {
		t.Errorf("expected refund date %v, got %v", testNow, refunded.RefundDate)
	}
	if _, err := svc.MarkPaid(ctx, a.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("mark paid after refund: expected ErrInvalidTransition, got %v", err)
	}
}

func TestListByPatient_NewestFirst(t *testing.T) {
	svc, _, _ := newTestService()
	first := bookTestAppointment(t, svc, "p1", monday, "8:00 AM")
	second := bookTestAppointment(t, svc, "p1", monday, "9:00 AM")
	bookTestAppointment(t, svc, "p2", monday, "10:00 AM")

	items, total, err := svc.ListByPatient(context.Background(), "p1", 10, 0)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if total != 2 || items[0].ID != second.ID || items[1].ID != first.ID {
		t.Errorf("unexpected list %v (total %d)", items, total)
	}
}

func TestSearch_NormalizesStatus(t *testing.T) {
	svc, _, _ := newTestService()
	a := bookTestAppointment(t, svc, "p1", monday, "8:00 AM")
	bookTestAppointment(t, svc, "p2", monday, "9:00 AM")
	_, _ = svc.Accept(context.Background(), a.ID)

	items, total, err := svc.Search(context.Background(), map[string]string{"status": "confirmed"}, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 1 || items[0].ID != a.ID {
		t.Errorf("expected the accepted appointment, got %v", items)
	}
}
