package oauthflow

import (
	"fmt"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

var (
	ErrOAuthProvider = autherrors.ErrOAuthProvider
	ErrMissingGrant  = autherrors.ErrMissingGrant
	ErrInvalidToken  = autherrors.ErrMalformedToken
)

// ProviderError is an error reported on the callback by the backend or the identity
// provider, e.g. the user declining consent.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("oauth error: %s", e.Code)
	}
	return fmt.Sprintf("oauth error: %s - %s", e.Code, e.Description)
}

func (e *ProviderError) Unwrap() error {
	return ErrOAuthProvider
}
