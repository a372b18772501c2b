package chat

import (
	"time"

	"github.com/google/uuid"
)

const (
	SenderPatient = "patient"
	SenderAdmin   = "admin"

	// MaxMessageLength bounds a single message in characters.
	MaxMessageLength = 2000
	// DefaultListLimit is the page size when none is given.
	DefaultListLimit = 50
)

// Message is one entry of the conversation between a patient and the clinic.
type Message struct {
	ID         uuid.UUID `json:"id"`
	PatientUID string    `json:"patient_uid"`
	SenderRole string    `json:"sender_role"`
	SenderName string    `json:"sender_name"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// FromAdmin reports whether the clinic wrote the message.
func (m *Message) FromAdmin() bool {
	return m.SenderRole == SenderAdmin
}
