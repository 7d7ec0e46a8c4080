package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session manager
var (
	// Storage errors (recovered locally, never returned by the storage adapter)
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrSerialization      = errors.New("serialization failed")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")

	// Token errors
	ErrMalformedToken   = errors.New("malformed token")
	ErrTokenExpired     = errors.New("token expired")
	ErrNoRefreshToken   = errors.New("no refresh token")
	ErrNoSession        = errors.New("no session")
	ErrIdentityChanged  = errors.New("user identity fields are immutable")
	ErrSessionUserMatch = errors.New("session user id does not match user")

	// Flow errors
	ErrCSRFValidation       = errors.New("csrf state validation failed")
	ErrOAuthProvider        = errors.New("oauth provider error")
	ErrMissingGrant         = errors.New("callback carried no code, token or error")
	ErrInvalidGrantResponse = errors.New("backend returned an incomplete session")
	ErrNoNavigator          = errors.New("environment cannot navigate")

	// Transport errors
	ErrNetwork = errors.New("network error")
	ErrAPI     = errors.New("api error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
