// Package storage provides the namespaced key/value adapter used to persist session state
// across durable, per-tab and cookie backends.
package storage

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

// Backend selects which client storage an Adapter writes to.
type Backend string

const (
	BackendDurable Backend = "durable"
	BackendPerTab  Backend = "per-tab"
	BackendCookie  Backend = "cookie"
)

// Errors drivers return. The Adapter recovers from all of them.
var (
	ErrUnavailable   = autherrors.ErrStorageUnavailable
	ErrSerialization = autherrors.ErrSerialization
	ErrQuotaExceeded = autherrors.ErrQuotaExceeded
)

// ParseBackend maps a configuration value to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendDurable, "local":
		return BackendDurable, nil
	case BackendPerTab, "session", "pertab":
		return BackendPerTab, nil
	case BackendCookie:
		return BackendCookie, nil
	}
	return "", fmt.Errorf("unknown storage backend %q", s)
}

// CookieOptions are the per-write attributes honoured by cookie drivers. Other drivers
// ignore them.
type CookieOptions struct {
	Path     string
	Domain   string
	MaxAge   time.Duration
	Secure   bool
	SameSite http.SameSite
}

// Driver is the raw string store behind an Adapter. Keys passed to a Driver are already
// namespaced.
type Driver interface {
	Get(key string) (string, bool, error)
	Set(key, value string, opts *CookieOptions) error
	Delete(key string) error
	Keys() ([]string, error)
}

// PrefixLister is implemented by drivers that can enumerate a key prefix without listing
// the whole store. Clear uses it when available.
type PrefixLister interface {
	KeysWithPrefix(prefix string) ([]string, error)
}

// Provider hands out the driver for a backend, or nil when that backend is not reachable
// in the current environment.
type Provider interface {
	Driver(backend Backend) Driver
}
