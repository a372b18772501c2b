package patient

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("patient profile not found")
	ErrValidation   = errors.New("invalid profile")
	ErrUnregistered = errors.New("user account is not registered")
)

type Repository interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	// Upsert returns ErrUnregistered when the user has no account record.
	Upsert(ctx context.Context, p *Profile) error
	List(ctx context.Context, search string, limit, offset int) ([]*Profile, int, error)
}
