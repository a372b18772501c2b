package account

import (
	"strings"
	"time"
)

const (
	RolePatient = "patient"
	RoleAdmin   = "admin"

	StatusActive   = "Active"
	StatusInactive = "Inactive"
)

// User is the portal's record of an authenticated person.
type User struct {
	UID          string    `json:"uid"`
	CustomUserID string    `json:"custom_user_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	Status       string    `json:"status"`
	IsArchived   bool      `json:"is_archived"`
	Archived     bool      `json:"archived"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsInactive reports whether the account has been deactivated. Either
// archive flag or an Inactive status (any case) counts.
func (u *User) IsInactive() bool {
	return u.IsArchived || u.Archived || strings.EqualFold(u.Status, StatusInactive)
}

// AccountStatus is the result of a status check.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountNotFound AccountStatus = "notfound"
)

// Ref names a user either by uid or by custom (Patient ID) identifier.
type Ref struct {
	UID      string
	CustomID string
}

func (r Ref) String() string {
	if r.UID != "" {
		return "uid=" + r.UID
	}
	return "customUserId=" + r.CustomID
}
