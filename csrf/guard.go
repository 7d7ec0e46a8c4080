// Package csrf issues and checks the one-time state value that binds an authorize
// redirect to its callback.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"io"
	mrand "math/rand/v2"
	"sync"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// StateKey is the storage key of the pending state, before the storage prefix.
	StateKey = "oauth_state"

	stateBytes = 32
)

var (
	ErrValidation = autherrors.ErrCSRFValidation
	// ErrNotPersisted means the state could not be stored, so no callback could ever
	// validate against it.
	ErrNotPersisted = autherrors.Wrapf(autherrors.ErrStorageUnavailable, "csrf state not persisted")
)

// Guard keeps at most one pending state. It should sit on per-tab storage so the value
// never outlives the flow attempt that created it.
type Guard struct {
	adapter *storage.Adapter
	random  io.Reader
	logger  zerolog.Logger

	mu   sync.Mutex
	weak bool
}

type Option func(*Guard)

// WithRandReader replaces crypto/rand as the entropy source.
func WithRandReader(r io.Reader) Option {
	return func(g *Guard) {
		g.random = r
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func NewGuard(adapter *storage.Adapter, options ...Option) *Guard {
	g := &Guard{
		adapter: adapter,
		random:  rand.Reader,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Generate creates a new state, replacing any pending one, and persists it.
//
// When the secure source fails the state comes from math/rand instead. That value is
// guessable by anyone able to observe or reproduce the generator, so the fallback is logged
// and reported by Weak rather than treated as equivalent.
func (g *Guard) Generate() (string, error) {
	b := make([]byte, stateBytes)
	weak := false
	if _, err := io.ReadFull(g.random, b); err != nil {
		g.logger.Warn().Err(err).Msg("secure random source unavailable, csrf state generated from math/rand (weak)")
		weak = true
		for i := range b {
			b[i] = byte(mrand.Uint32())
		}
	}
	state := base64.RawURLEncoding.EncodeToString(b)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.weak = weak
	g.adapter.Set(StateKey, state)
	if persisted, ok := storage.Get[string](g.adapter, StateKey); !ok || persisted != state {
		return "", ErrNotPersisted
	}
	return state, nil
}

// Weak reports whether the most recent Generate fell back to the insecure generator.
func (g *Guard) Weak() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.weak
}

// Validate reports whether received matches the pending state. It fails closed when either
// value is missing. A match consumes the state, so only the first of any number of
// concurrent or repeated validations of the same value succeeds.
func (g *Guard) Validate(received string) bool {
	if received == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	stored, ok := storage.Get[string](g.adapter, StateKey)
	if !ok || stored == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(received)) != 1 {
		return false
	}
	g.adapter.Remove(StateKey)
	return true
}

// Pending reports whether a state is waiting for its callback.
func (g *Guard) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := storage.Get[string](g.adapter, StateKey)
	return ok && s != ""
}

// Discard drops any pending state.
func (g *Guard) Discard() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.adapter.Remove(StateKey)
}
