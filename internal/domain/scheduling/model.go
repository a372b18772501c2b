package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the format of appointment and schedule dates.
const DateLayout = "2006-01-02"

// Appointment statuses as written by the admin console.
const (
	StatusPending     = "Pending"
	StatusAccepted    = "Accepted"
	StatusDecline     = "Decline"
	StatusRescheduled = "Rescheduled"
	StatusCompleted   = "Completed"
)

// Cancellation statuses. A declined request is stored lowercase.
const (
	CancellationNone      = ""
	CancellationRequested = "Requested"
	CancellationApproved  = "Approved"
	CancellationDeclined  = "decline"
)

const (
	PaymentUnpaid   = "unpaid"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
)

// Appointment is a patient's booking for a service at a date and slot.
type Appointment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	PatientID          string     `db:"patient_id" json:"patient_id"`
	PatientName        string     `db:"patient_name" json:"patient_name"`
	Service            string     `db:"service" json:"service"`
	SubService         string     `db:"sub_service" json:"sub_service"`
	Date               string     `db:"date" json:"date"`
	Time               string     `db:"time" json:"time"`
	Status             string     `db:"status" json:"status"`
	CancellationStatus string     `db:"cancellation_status" json:"cancellation_status"`
	CancellationReason string     `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	PaymentStatus      string     `db:"payment_status" json:"payment_status"`
	PaymentSessionID   string     `db:"payment_session_id" json:"payment_session_id,omitempty"`
	Amount             float64    `db:"amount" json:"amount"`
	RefundAmount       float64    `db:"refund_amount" json:"refund_amount,omitempty"`
	RefundID           string     `db:"refund_id" json:"refund_id,omitempty"`
	RefundDate         *time.Time `db:"refund_date" json:"refund_date,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// NormalizeStatus maps legacy and differently-cased values onto the
// canonical status names. Unknown values are returned unchanged.
func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending
	case "accepted", "confirmed":
		return StatusAccepted
	case "decline", "declined":
		return StatusDecline
	case "rescheduled":
		return StatusRescheduled
	case "completed":
		return StatusCompleted
	}
	return s
}

// NormalizeCancellation maps cancellation values onto their stored form.
func NormalizeCancellation(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return CancellationNone
	case "requested":
		return CancellationRequested
	case "approved":
		return CancellationApproved
	case "decline", "declined":
		return CancellationDeclined
	}
	return s
}

func (a *Appointment) IsDeclined() bool {
	return NormalizeStatus(a.Status) == StatusDecline
}

// HoldsSlot reports whether the appointment occupies its date and time.
func (a *Appointment) HoldsSlot() bool {
	return !a.IsDeclined() && a.CancellationStatus != CancellationApproved
}

// IsRefundable reports whether a payment can be returned: the appointment
// was paid and its cancellation approved.
func (a *Appointment) IsRefundable() bool {
	return a.PaymentStatus == PaymentPaid && a.CancellationStatus == CancellationApproved
}

// StatusKey identifies the observable state of an appointment. It changes
// whenever status, cancellation or payment change.
func (a *Appointment) StatusKey() string {
	return a.ID.String() + "_" + a.Status + "_" + a.CancellationStatus + "_" + a.PaymentStatus
}

// ScheduleDefaults are the slots offered on a regular day and the weekdays
// the clinic is closed (0 = Sunday).
type ScheduleDefaults struct {
	Slots      []string  `json:"slots"`
	ClosedDays []int     `json:"closed_days"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsClosedOn reports whether weekday is a regular closing day.
func (d *ScheduleDefaults) IsClosedOn(weekday time.Weekday) bool {
	for _, day := range d.ClosedDays {
		if time.Weekday(day) == weekday {
			return true
		}
	}
	return false
}

// DailySchedule overrides the defaults for one date.
type DailySchedule struct {
	Date      string    `json:"date"`
	Slots     []string  `json:"slots"`
	Closed    bool      `json:"closed"`
	UpdatedAt time.Time `json:"updated_at"`
}
