package oauthmodel

// TokenResponse is the RFC 6749 token endpoint response. Some backends answer the refresh
// call in this shape instead of the camelCase one.
type TokenResponse struct {
	// AccessToken is the bearer token for API requests.
	// Usage: Authorization: Bearer <access_token>
	AccessToken *string `json:"access_token,omitempty"`

	// TokenType is "bearer" for every backend this package talks to.
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token.
	// Note: a hint; the JWT "exp" claim is authoritative when present
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is rotated on each use.
	RefreshToken *string `json:"refresh_token,omitempty"`

	Scope string `json:"scope,omitempty"`
}
