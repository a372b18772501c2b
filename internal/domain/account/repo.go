package account

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("user not found")

type Repository interface {
	// Upsert inserts u or refreshes its email and display name. Role and
	// status of an existing record are left alone.
	Upsert(ctx context.Context, u *User) error
	GetByUID(ctx context.Context, uid string) (*User, error)
	GetByCustomID(ctx context.Context, customID string) (*User, error)
	SetActive(ctx context.Context, uid string, active bool) error
	List(ctx context.Context, limit, offset int) ([]*User, int, error)
	ListInactive(ctx context.Context) ([]*User, error)
}

// Directory is the identity provider that owns the user's login. Disabling
// there stops new sign-ins; the portal record stays authoritative.
type Directory interface {
	SetDisabled(ctx context.Context, uid string, disabled bool) error
}
