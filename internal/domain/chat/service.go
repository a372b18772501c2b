package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Service struct {
	messages Repository
}

func NewService(messages Repository) *Service {
	return &Service{messages: messages}
}

// invalidf reports a message the client must correct.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Send validates and stores a message in the conversation of patientUID.
func (s *Service) Send(ctx context.Context, m *Message) error {
	if m.PatientUID == "" {
		return invalidf("patient_uid is required")
	}
	if m.SenderRole != SenderPatient && m.SenderRole != SenderAdmin {
		return invalidf("invalid sender_role: %s", m.SenderRole)
	}
	m.Message = strings.TrimSpace(m.Message)
	if m.Message == "" {
		return invalidf("message is required")
	}
	if n := utf8.RuneCountInString(m.Message); n > MaxMessageLength {
		return invalidf("message is %d characters, maximum is %d", n, MaxMessageLength)
	}
	m.SenderName = strings.TrimSpace(m.SenderName)
	return s.messages.Create(ctx, m)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	return s.messages.GetByID(ctx, id)
}

// List returns up to limit messages of the conversation, newest first.
func (s *Service) List(ctx context.Context, patientUID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.messages.ListByPatient(ctx, patientUID, limit)
}

func (s *Service) Conversations(ctx context.Context, limit, offset int) ([]*Message, int, error) {
	return s.messages.ListConversations(ctx, limit, offset)
}
