package oauthmodel

import (
	"encoding/json"

	"github.com/jrsteele09/go-auth-session/internal/utils"
)

// CodeExchangeRequest is the body of POST /oauth/callback.
// The request carries no Authorization header: the code is the credential.
type CodeExchangeRequest struct {
	// Code is the authorization code received on the callback.
	// Usage: exchanged once, then invalid
	Code string `json:"code"`

	// RedirectURI must equal the redirect_uri sent on the authorize redirect.
	RedirectURI string `json:"redirect_uri"`

	// AppID identifies this application to the backend.
	AppID string `json:"app_id,omitempty"`
}

// TokenSubmitRequest is the body of POST /oauth/callback for the simplified flow, when the
// client holds a backend issued token and wants the full session for it.
type TokenSubmitRequest struct {
	Token       string `json:"token"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// RefreshRequest is the body of POST /sessions/refresh.
type RefreshRequest struct {
	// RefreshToken is rotated by the backend: after a successful refresh it is unusable.
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is returned by POST /sessions/refresh. Backends that answer in the
// RFC 6749 token response shape are accepted too; see TokenResponse.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"` // Epoch milliseconds

	// ExpiresIn is the token lifetime in seconds, set only from an RFC 6749 body. The
	// caller turns it into ExpiresAt.
	ExpiresIn int `json:"-"`
}

func (r *RefreshResponse) UnmarshalJSON(data []byte) error {
	type camelCase RefreshResponse
	var c camelCase
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	var std TokenResponse
	if err := json.Unmarshal(data, &std); err != nil {
		return err
	}
	*r = RefreshResponse(c)
	if r.AccessToken == "" {
		r.AccessToken = utils.Value(std.AccessToken)
	}
	if r.RefreshToken == "" {
		r.RefreshToken = utils.Value(std.RefreshToken)
	}
	if r.ExpiresAt == 0 {
		r.ExpiresIn = std.ExpiresIn
	}
	return nil
}

// ErrorBody is the JSON error document the backend returns with non-2xx responses.
// Backends differ in which of the message fields they fill.
type ErrorBody struct {
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Code             string          `json:"code"`
	Details          json.RawMessage `json:"details,omitempty"`
}

// Text returns the most descriptive message present.
func (b ErrorBody) Text() string {
	switch {
	case b.Message != "":
		return b.Message
	case b.ErrorDescription != "":
		return b.ErrorDescription
	default:
		return b.Error
	}
}
