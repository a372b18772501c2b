package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrInvalidTransition = errors.New("invalid appointment transition")
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrForbidden         = errors.New("appointment belongs to another patient")
	ErrValidation        = errors.New("invalid request")
	ErrUnregistered      = errors.New("patient account is not registered")
)

type AppointmentRepository interface {
	// Create stores a. It returns ErrSlotUnavailable when another
	// appointment already holds the slot and ErrUnregistered when the
	// patient has no user record.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByPaymentSession(ctx context.Context, sessionID string) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error)
	// ListHoldingSlots returns the appointments on date that occupy a slot.
	ListHoldingSlots(ctx context.Context, date string) ([]*Appointment, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error)
}

type ScheduleRepository interface {
	GetDefaults(ctx context.Context) (*ScheduleDefaults, error)
	SaveDefaults(ctx context.Context, d *ScheduleDefaults) error
	// GetDaily returns nil and no error when date has no override.
	GetDaily(ctx context.Context, date string) (*DailySchedule, error)
	SaveDaily(ctx context.Context, d *DailySchedule) error
	DeleteDaily(ctx context.Context, date string) error
}
