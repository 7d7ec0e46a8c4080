package sessions

import (
	"time"

	"github.com/jrsteele09/go-auth-session/users"
	"golang.org/x/oauth2"
)

// Session is a live grant issued by the backend.
type Session struct {
	ID           string    `json:"id"`           // Backend session identifier
	UserID       string    `json:"userId"`       // Owning user, matches users.User.ID
	AccessToken  string    `json:"accessToken"`  // Bearer token attached to API requests
	RefreshToken string    `json:"refreshToken"` // Used solely to mint a new access token
	ExpiresAt    int64     `json:"expiresAt"`    // Epoch milliseconds
	Provider     string    `json:"provider"`     // Identity provider the user signed in with
	CreatedAt    time.Time `json:"createdAt"`    // When the session was created
}

// Expiry returns ExpiresAt as a time.
func (s Session) Expiry() time.Time {
	return time.UnixMilli(s.ExpiresAt)
}

// ExpiredAt reports whether the session has lapsed at now.
func (s Session) ExpiredAt(now time.Time) bool {
	return s.ExpiresAt <= now.UnixMilli()
}

// OAuth2Token exposes the session as an oauth2.Token so it can drive oauth2 HTTP clients.
func (s Session) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry(),
	}
}

// State is what a successful Load returns.
type State struct {
	Session Session
	User    users.User
}

// AuthResult is returned by a completed sign in.
type AuthResult struct {
	User         users.User `json:"user"`
	Session      Session    `json:"session"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    int64      `json:"expiresAt"`
}

// Normalize fills the session token fields from the top level ones when the backend left
// them empty, and vice versa.
func (r *AuthResult) Normalize() {
	if r.Session.AccessToken == "" {
		r.Session.AccessToken = r.AccessToken
	}
	if r.Session.RefreshToken == "" {
		r.Session.RefreshToken = r.RefreshToken
	}
	if r.Session.ExpiresAt == 0 {
		r.Session.ExpiresAt = r.ExpiresAt
	}
	if r.Session.UserID == "" {
		r.Session.UserID = r.User.ID
	}
	if r.AccessToken == "" {
		r.AccessToken = r.Session.AccessToken
	}
	if r.RefreshToken == "" {
		r.RefreshToken = r.Session.RefreshToken
	}
	if r.ExpiresAt == 0 {
		r.ExpiresAt = r.Session.ExpiresAt
	}
}
