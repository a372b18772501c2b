// Package alerts turns changes to a user's chat and appointments into inbox
// notifications while the user is connected.
package alerts

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/clinicportal/portal/internal/domain/chat"
	"github.com/clinicportal/portal/internal/domain/scheduling"
	"github.com/clinicportal/portal/internal/platform/notification"
)

// PrimeLimit is how many recent chat messages and appointments a watcher
// marks as seen when it starts.
const PrimeLimit = 50

// MessageSource loads chat messages.
type MessageSource interface {
	Get(ctx context.Context, id uuid.UUID) (*chat.Message, error)
	List(ctx context.Context, patientUID string, limit int) ([]*chat.Message, error)
}

// AppointmentSource loads appointments.
type AppointmentSource interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*scheduling.Appointment, int, error)
}

// Notifier delivers a rendered template to a user.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

var pesoPrinter = message.NewPrinter(language.English)

// FormatPeso renders amount as pesos with two decimals and digit grouping.
func FormatPeso(amount float64) string {
	return pesoPrinter.Sprintf("₱%.2f", amount)
}

// statusTemplate picks the alert for an appointment status.
func statusTemplate(status string) string {
	switch scheduling.NormalizeStatus(status) {
	case scheduling.StatusAccepted:
		return notification.TplAppointmentConfirmed
	case scheduling.StatusDecline:
		return notification.TplAppointmentDeclined
	case scheduling.StatusRescheduled:
		return notification.TplAppointmentRescheduled
	case scheduling.StatusCompleted:
		return notification.TplAppointmentCompleted
	}
	return ""
}

func cancellationTemplate(cancellation string) string {
	switch cancellation {
	case scheduling.CancellationApproved:
		return notification.TplCancellationApproved
	case scheduling.CancellationDeclined:
		return notification.TplCancellationDeclined
	}
	return ""
}

func paymentTemplate(payment string) string {
	if payment == scheduling.PaymentRefunded {
		return notification.TplRefundProcessed
	}
	return ""
}

// appointmentState is the part of an appointment that drives alerts.
type appointmentState struct {
	status       string
	cancellation string
	payment      string
}

func stateOf(a *scheduling.Appointment) appointmentState {
	return appointmentState{
		status:       scheduling.NormalizeStatus(a.Status),
		cancellation: a.CancellationStatus,
		payment:      a.PaymentStatus,
	}
}

// chooseTemplate decides which alert a changed appointment deserves. With a
// remembered previous state only the field that changed is reported, status
// first, then cancellation, then payment. Without one the current values are
// checked in that order.
func chooseTemplate(prev appointmentState, known bool, a *scheduling.Appointment) string {
	cur := stateOf(a)
	if !known {
		for _, tpl := range []string{
			statusTemplate(cur.status),
			cancellationTemplate(cur.cancellation),
			paymentTemplate(cur.payment),
		} {
			if tpl != "" {
				return tpl
			}
		}
		return ""
	}

	if cur.status != prev.status {
		if tpl := statusTemplate(cur.status); tpl != "" {
			return tpl
		}
	}
	if cur.cancellation != prev.cancellation {
		if tpl := cancellationTemplate(cur.cancellation); tpl != "" {
			return tpl
		}
	}
	if cur.payment != prev.payment {
		return paymentTemplate(cur.payment)
	}
	return ""
}

func appointmentData(a *scheduling.Appointment) map[string]string {
	return map[string]string{
		"date":   a.Date,
		"time":   a.Time,
		"amount": FormatPeso(a.RefundAmount),
	}
}

func chatTemplate(m *chat.Message) (string, map[string]string) {
	if m.SenderName != "" {
		return notification.TplChatMessage, map[string]string{"sender_name": m.SenderName, "message": m.Message}
	}
	return notification.TplChatMessagePlain, map[string]string{"message": m.Message}
}
