package patient

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Profile is the demographic record a patient maintains for themselves.
type Profile struct {
	UserID    string    `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	UpdatedAt time.Time `json:"updated_at"`
}

var validGenders = map[string]bool{
	"": true, "male": true, "female": true, "other": true,
}

// FullName joins the first and last names.
func (p *Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

func (p *Profile) normalize() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	p.Email = strings.TrimSpace(p.Email)
	p.Phone = strings.TrimSpace(p.Phone)
	p.Address = strings.TrimSpace(p.Address)
}

// invalidf reports a profile the client must correct.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Validate checks the profile after normalizing whitespace and case.
func (p *Profile) Validate() error {
	p.normalize()
	if p.FirstName == "" {
		return invalidf("first_name is required")
	}
	if p.LastName == "" {
		return invalidf("last_name is required")
	}
	if p.Age < 0 || p.Age > 150 {
		return invalidf("age must be between 0 and 150, got %d", p.Age)
	}
	if !validGenders[p.Gender] {
		return invalidf("invalid gender: %s", p.Gender)
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return invalidf("invalid email: %s", p.Email)
		}
	}
	return nil
}
