package users

import (
	"time"
)

// User is the identity the backend issued for the signed in caller.
// ID and Email never change once issued; a backend response that disagrees is rejected.
type User struct {
	ID            string    `json:"id"`                  // Unique identifier for the user
	Email         string    `json:"email"`               // User's email address
	Name          string    `json:"name,omitempty"`      // Display name
	AvatarURL     string    `json:"avatarUrl,omitempty"` // Profile picture
	EmailVerified bool      `json:"emailVerified"`       // Has the user verified their email address
	CreatedAt     time.Time `json:"createdAt"`           // When the backend created the user
	UpdatedAt     time.Time `json:"updatedAt"`           // Last profile change on the backend
}

// SameIdentity reports whether other carries the same immutable identity fields.
func (u User) SameIdentity(other User) bool {
	return u.ID == other.ID && u.Email == other.Email
}

// DisplayName returns Name, or Email when no name is set.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
