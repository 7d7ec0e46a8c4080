package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrorObserver receives every storage failure the Adapter swallows.
type ErrorObserver func(backend Backend, op string, err error)

// Adapter namespaces keys with the configured prefix and JSON encodes values. It never
// returns an error or panics: failures are logged and the operation degrades to a no-op,
// so callers treat "no value" and "storage unavailable" the same way.
type Adapter struct {
	backend  Backend
	driver   Driver
	prefix   string
	cookies  config.CookieDefaults
	logger   zerolog.Logger
	observer ErrorObserver
}

type AdapterOption func(*Adapter)

func WithLogger(logger zerolog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func WithErrorObserver(observer ErrorObserver) AdapterOption {
	return func(a *Adapter) {
		a.observer = observer
	}
}

// NewAdapter binds backend to the driver the provider exposes for it. A nil provider, or a
// provider without that backend, yields an Adapter whose operations are all no-ops.
func NewAdapter(provider Provider, backend Backend, cfg config.StorageConfig, options ...AdapterOption) *Adapter {
	a := &Adapter{
		backend: backend,
		prefix:  cfg.GetStoragePrefix(),
		cookies: cfg.GetCookieDefaults(),
		logger:  log.Logger,
	}
	if provider != nil {
		a.driver = provider.Driver(backend)
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Backend reports which backend the Adapter was built for.
func (a *Adapter) Backend() Backend {
	return a.backend
}

// Prefix returns the namespace prepended to every key.
func (a *Adapter) Prefix() string {
	return a.prefix
}

// Available reports whether a driver is attached.
func (a *Adapter) Available() bool {
	return a.driver != nil
}

// Get decodes the value stored under key into dst. It returns false when the key is absent,
// storage is unavailable, or the stored value cannot be decoded into dst.
func (a *Adapter) Get(key string, dst any) (found bool) {
	if a.driver == nil {
		return false
	}
	defer a.recoverOp("get", key, func() { found = false })

	raw, ok, err := a.driver.Get(a.namespaced(key))
	if err != nil {
		a.report("get", key, err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		a.report("get", key, fmt.Errorf("%w: %v", ErrSerialization, err))
		return false
	}
	return true
}

// Set stores value under key using the configured cookie defaults.
func (a *Adapter) Set(key string, value any) {
	a.set(key, value, nil)
}

// SetWithOptions stores value under key with explicit cookie attributes.
func (a *Adapter) SetWithOptions(key string, value any, opts CookieOptions) {
	a.set(key, value, &opts)
}

func (a *Adapter) set(key string, value any, opts *CookieOptions) {
	if a.driver == nil {
		return
	}
	defer a.recoverOp("set", key, nil)

	data, err := json.Marshal(value)
	if err != nil {
		a.report("set", key, fmt.Errorf("%w: %v", ErrSerialization, err))
		return
	}
	if opts == nil && a.backend == BackendCookie {
		opts = &CookieOptions{
			Path:     a.cookies.Path,
			Domain:   a.cookies.Domain,
			MaxAge:   a.cookies.MaxAge,
			Secure:   a.cookies.Secure,
			SameSite: a.cookies.SameSite,
		}
	}
	if err := a.driver.Set(a.namespaced(key), string(data), opts); err != nil {
		a.report("set", key, err)
	}
}

// Remove deletes key. Removing an absent key is not an error.
func (a *Adapter) Remove(key string) {
	if a.driver == nil {
		return
	}
	defer a.recoverOp("remove", key, nil)

	if err := a.driver.Delete(a.namespaced(key)); err != nil {
		a.report("remove", key, err)
	}
}

// Clear removes every key carrying the Adapter's prefix and leaves everything else alone.
func (a *Adapter) Clear() {
	if a.driver == nil {
		return
	}
	defer a.recoverOp("clear", "", nil)

	var (
		keys []string
		err  error
	)
	if lister, ok := a.driver.(PrefixLister); ok {
		keys, err = lister.KeysWithPrefix(a.prefix)
	} else {
		keys, err = a.driver.Keys()
	}
	if err != nil {
		a.report("clear", "", err)
		return
	}
	for _, k := range keys {
		if !strings.HasPrefix(k, a.prefix) {
			continue
		}
		if err := a.driver.Delete(k); err != nil {
			a.report("clear", k, err)
		}
	}
}

func (a *Adapter) namespaced(key string) string {
	return a.prefix + key
}

func (a *Adapter) report(op, key string, err error) {
	a.logger.Warn().Err(err).
		Str("backend", string(a.backend)).
		Str("op", op).
		Str("key", key).
		Msg("storage operation failed")
	if a.observer != nil {
		a.observer(a.backend, op, err)
	}
}

func (a *Adapter) recoverOp(op, key string, onPanic func()) {
	if r := recover(); r != nil {
		a.report(op, key, fmt.Errorf("%w: driver panic: %v", ErrUnavailable, r))
		if onPanic != nil {
			onPanic()
		}
	}
}

// Get is the typed form of Adapter.Get.
func Get[T any](a *Adapter, key string) (T, bool) {
	var v T
	if !a.Get(key, &v) {
		var zero T
		return zero, false
	}
	return v, true
}
