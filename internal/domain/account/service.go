package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

type Service struct {
	users     Repository
	directory Directory
	logger    zerolog.Logger
}

// NewService wires the account service. directory may be nil, in which case
// only the portal record is updated.
func NewService(users Repository, directory Directory, logger zerolog.Logger) *Service {
	return &Service{
		users:     users,
		directory: directory,
		logger:    logger.With().Str("component", "account").Logger(),
	}
}

// Register records the caller on first sign-in. Calling it again refreshes
// email and display name only.
func (s *Service) Register(ctx context.Context, uid, email, name string) (*User, error) {
	if uid == "" {
		return nil, fmt.Errorf("uid is required")
	}
	u := &User{
		UID:         uid,
		Email:       strings.TrimSpace(email),
		DisplayName: strings.TrimSpace(name),
		Role:        RolePatient,
		Status:      StatusActive,
	}
	if err := s.users.Upsert(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, uid string) (*User, error) {
	return s.users.GetByUID(ctx, uid)
}

// CheckStatus classifies the account of uid.
func (s *Service) CheckStatus(ctx context.Context, uid string) (AccountStatus, error) {
	u, err := s.users.GetByUID(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return AccountNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("check user status: %w", err)
	}
	if u.IsInactive() {
		return AccountInactive, nil
	}
	return AccountActive, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, limit, offset)
}

func (s *Service) ListInactive(ctx context.Context) ([]*User, error) {
	return s.users.ListInactive(ctx)
}

// Resolve finds the user named by ref.
func (s *Service) Resolve(ctx context.Context, ref Ref) (*User, error) {
	switch {
	case ref.UID != "":
		return s.users.GetByUID(ctx, ref.UID)
	case ref.CustomID != "":
		return s.users.GetByCustomID(ctx, ref.CustomID)
	default:
		return nil, fmt.Errorf("either uid or custom id must be provided")
	}
}

// Deactivate archives the user and disables the identity.
func (s *Service) Deactivate(ctx context.Context, ref Ref) (*User, error) {
	return s.setActive(ctx, ref, false)
}

// Reactivate clears the archive flags and re-enables the identity.
func (s *Service) Reactivate(ctx context.Context, ref Ref) (*User, error) {
	return s.setActive(ctx, ref, true)
}

func (s *Service) setActive(ctx context.Context, ref Ref, active bool) (*User, error) {
	u, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetActive(ctx, u.UID, active); err != nil {
		return nil, err
	}

	u.IsArchived, u.Archived = !active, !active
	u.Status = StatusActive
	if !active {
		u.Status = StatusInactive
	}

	if s.directory != nil {
		if err := s.directory.SetDisabled(ctx, u.UID, !active); err != nil {
			s.logger.Warn().Err(err).Str("uid", u.UID).Bool("disabled", !active).
				Msg("updating identity provider failed, portal record updated")
		}
	}
	s.logger.Info().Str("uid", u.UID).Str("status", u.Status).Msg("account status changed")
	return u, nil
}
