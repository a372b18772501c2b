package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("message not found")
	ErrValidation   = errors.New("invalid message")
	ErrUnregistered = errors.New("patient account is not registered")
)

type Repository interface {
	// Create returns ErrUnregistered when the conversation's patient has no
	// account record.
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// ListByPatient returns the newest messages of the conversation first.
	ListByPatient(ctx context.Context, patientUID string, limit int) ([]*Message, error)
	// ListConversations returns the latest message of every conversation,
	// newest first.
	ListConversations(ctx context.Context, limit, offset int) ([]*Message, int, error)
}
