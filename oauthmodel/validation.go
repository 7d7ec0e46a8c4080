package oauthmodel

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateRedirectURI checks that uri is an absolute http(s) URL without a fragment.
func ValidateRedirectURI(uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ErrInvalidRedirectUri
	}

	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRedirectUri, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: redirect_uri must use http or https scheme", ErrInvalidRedirectUri)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: redirect_uri must be absolute", ErrInvalidRedirectUri)
	}
	if strings.Contains(uri, "#") {
		return fmt.Errorf("%w: redirect_uri must not contain fragments", ErrInvalidRedirectUri)
	}
	return nil
}

// ValidateState checks the CSRF state sent on the authorize redirect.
func ValidateState(state string) error {
	if state == "" {
		return ErrMissingState
	}
	if strings.TrimSpace(state) != state || strings.ContainsAny(state, " \n\r\t") {
		return fmt.Errorf("%w: state must not contain whitespace", ErrMissingState)
	}
	return nil
}
