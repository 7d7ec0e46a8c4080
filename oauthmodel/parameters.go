package oauthmodel

import (
	"net/url"
	"strings"
)

// Query parameter names used by the backend on the authorize redirect and the callback.
const (
	ParamProvider         = "provider"
	ParamAppID            = "app_id"
	ParamRedirectURI      = "redirect_uri"
	ParamState            = "state"
	ParamCode             = "code"
	ParamError            = "error"
	ParamErrorDescription = "error_description"
	ParamToken            = "token"
)

// AuthorizeParameters are sent as the query of GET {base}/oauth/authorize.
// The backend performs the provider handshake and redirects to RedirectURI.
type AuthorizeParameters struct {
	// Provider names the identity provider the backend should hand off to.
	// Required: Yes
	// Example: "github", "google"
	Provider string

	// AppID identifies this application to the backend.
	// Required: Yes
	// Example: "rauth-client"
	AppID string

	// RedirectURI is where the backend sends the browser once the provider is done.
	// Required: Yes
	// Example: "http://localhost:8765/callback"
	// Security: must be registered with the backend for AppID
	RedirectURI string

	// State is the one-time CSRF value echoed back on the callback.
	// Required: Yes
	// Example: 43 characters of base64url
	State string
}

// Values encodes the parameters as a query.
func (p AuthorizeParameters) Values() url.Values {
	v := url.Values{}
	v.Set(ParamProvider, p.Provider)
	v.Set(ParamAppID, p.AppID)
	v.Set(ParamRedirectURI, p.RedirectURI)
	v.Set(ParamState, p.State)
	return v
}

// Validate checks that every required field is present and well formed.
func (p AuthorizeParameters) Validate() error {
	if strings.TrimSpace(p.Provider) == "" {
		return ErrMissingProvider
	}
	if err := ValidateRedirectURI(p.RedirectURI); err != nil {
		return err
	}
	return ValidateState(p.State)
}

// CallbackKind is the shape of a redirect-back.
type CallbackKind int

const (
	// CallbackEmpty carries none of error, token or code.
	CallbackEmpty CallbackKind = iota
	// CallbackError reports that the provider or the backend refused the sign in.
	CallbackError
	// CallbackToken carries a token issued directly by the backend. There is no code to
	// exchange and no state to check.
	CallbackToken
	// CallbackCode carries an authorization code to exchange for tokens.
	CallbackCode
)

func (k CallbackKind) String() string {
	switch k {
	case CallbackError:
		return "error"
	case CallbackToken:
		return "token"
	case CallbackCode:
		return "code"
	default:
		return "empty"
	}
}

// CallbackParameters are the query parameters of the redirect-back.
type CallbackParameters struct {
	// Code is the authorization grant to exchange at POST /oauth/callback.
	Code string

	// State echoes the value sent on the authorize redirect.
	// Optional on the wire for older backends; when present it must match.
	State string

	// Error is the OAuth error code, e.g. "access_denied".
	Error string

	// ErrorDescription is the human readable reason that accompanies Error.
	ErrorDescription string

	// Token is a backend issued access token (simplified flow, no exchange).
	Token string
}

// ParseCallback reads the callback parameters out of a query.
func ParseCallback(v url.Values) CallbackParameters {
	return CallbackParameters{
		Code:             strings.TrimSpace(v.Get(ParamCode)),
		State:            v.Get(ParamState),
		Error:            strings.TrimSpace(v.Get(ParamError)),
		ErrorDescription: v.Get(ParamErrorDescription),
		Token:            strings.TrimSpace(v.Get(ParamToken)),
	}
}

// Kind classifies the callback. An error wins over a token, and a token over a code.
func (p CallbackParameters) Kind() CallbackKind {
	switch {
	case p.Error != "":
		return CallbackError
	case p.Token != "":
		return CallbackToken
	case p.Code != "":
		return CallbackCode
	default:
		return CallbackEmpty
	}
}
