// Package environment describes where the session manager runs. A ClientEnvironment has
// storage and can send the user to another page; a NullEnvironment (a server rendering
// host) has neither, and everything built on it degrades to "not authenticated".
package environment

import (
	"context"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/pkg/browser"
)

var ErrNoNavigator = autherrors.ErrNoNavigator

// Environment is selected once at construction and passed to every component that needs
// storage or navigation.
type Environment interface {
	storage.Provider
	IsClient() bool
	Navigate(ctx context.Context, target string) error
}

// Navigator performs a full-page navigation to target.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, target string) error

func (f NavigatorFunc) Navigate(ctx context.Context, target string) error {
	return f(ctx, target)
}

// BrowserNavigator opens target in the user's default browser.
type BrowserNavigator struct{}

func (BrowserNavigator) Navigate(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return browser.OpenURL(target)
}

// ClientEnvironment exposes whichever drivers the host provides. A nil driver means that
// backend is unreachable (disabled, or not configured).
type ClientEnvironment struct {
	Durable   storage.Driver
	PerTab    storage.Driver
	Cookie    storage.Driver
	Navigator Navigator
}

var _ Environment = (*ClientEnvironment)(nil)

func (e *ClientEnvironment) IsClient() bool {
	return true
}

func (e *ClientEnvironment) Driver(backend storage.Backend) storage.Driver {
	switch backend {
	case storage.BackendDurable:
		return e.Durable
	case storage.BackendPerTab:
		return e.PerTab
	case storage.BackendCookie:
		return e.Cookie
	}
	return nil
}

func (e *ClientEnvironment) Navigate(ctx context.Context, target string) error {
	if e.Navigator == nil {
		return ErrNoNavigator
	}
	return e.Navigator.Navigate(ctx, target)
}

// NullEnvironment is the server rendering host: no client storage, no navigation.
type NullEnvironment struct{}

var _ Environment = NullEnvironment{}

func (NullEnvironment) IsClient() bool {
	return false
}

func (NullEnvironment) Driver(storage.Backend) storage.Driver {
	return nil
}

func (NullEnvironment) Navigate(context.Context, string) error {
	return ErrNoNavigator
}
