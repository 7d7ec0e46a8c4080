package oauthmodel

import "errors"

var (
	ErrMissingProvider    = errors.New("missing provider")
	ErrMissingState       = errors.New("missing state")
	ErrInvalidRedirectUri = errors.New("invalid or no redirect uri")
)
