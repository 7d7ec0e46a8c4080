package apiclient

import (
	"encoding/json"
	"fmt"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

// CodeNetworkError is used when the backend could not be reached or its error body could
// not be read.
const CodeNetworkError = "NETWORK_ERROR"

var (
	ErrNetwork = autherrors.ErrNetwork
	ErrAPI     = autherrors.ErrAPI
)

// Error is the normalized shape of every failed call. HTTPStatus is 0 when no response
// was received at all.
type Error struct {
	Message    string          `json:"message"`
	Code       string          `json:"code"`
	HTTPStatus int             `json:"httpStatus"`
	Details    json.RawMessage `json:"details,omitempty"`
	cause      error
}

func (e *Error) Error() string {
	if e.HTTPStatus == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Unwrap lets errors.Is match ErrNetwork or ErrAPI, and the transport error when there is
// one.
func (e *Error) Unwrap() []error {
	kind := ErrAPI
	if e.HTTPStatus == 0 {
		kind = ErrNetwork
	}
	if e.cause != nil {
		return []error{kind, e.cause}
	}
	return []error{kind}
}

// IsNetwork reports whether err is a transport failure with no response.
func IsNetwork(err error) bool {
	return autherrors.Is(err, ErrNetwork)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if autherrors.As(err, &apiErr) {
		return apiErr.HTTPStatus
	}
	return 0
}
