package patient

import (
	"context"
)

type Service struct {
	profiles Repository
}

func NewService(profiles Repository) *Service {
	return &Service{profiles: profiles}
}

func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	return s.profiles.Get(ctx, userID)
}

// Save validates p and stores it as the profile of userID.
func (s *Service) Save(ctx context.Context, userID string, p *Profile) error {
	if userID == "" {
		return invalidf("user_id is required")
	}
	p.UserID = userID
	if err := p.Validate(); err != nil {
		return err
	}
	return s.profiles.Upsert(ctx, p)
}

func (s *Service) List(ctx context.Context, search string, limit, offset int) ([]*Profile, int, error) {
	return s.profiles.List(ctx, search, limit, offset)
}
