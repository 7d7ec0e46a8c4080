package sessions

import (
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Record keys, before the storage prefix is applied.
const (
	KeySession      = "session"
	KeyUser         = "user"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyExpiresAt    = "expires_at"
)

var (
	ErrNoSession        = autherrors.ErrNoSession
	ErrIdentityChanged  = autherrors.ErrIdentityChanged
	ErrSessionUserMatch = autherrors.ErrSessionUserMatch
)

var recordKeys = []string{KeySession, KeyUser, KeyAccessToken, KeyRefreshToken, KeyExpiresAt}

// Store persists the {session, user} pair as five records through a storage.Adapter.
// The five writes are not atomic; Load tolerates any partial state by reporting no session.
type Store struct {
	adapter *storage.Adapter
	nowFunc func() time.Time
	logger  zerolog.Logger
	mu      sync.Mutex
}

type StoreOption func(*Store)

func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(adapter *storage.Adapter, options ...StoreOption) *Store {
	s := &Store{
		adapter: adapter,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	return s
}

// Save writes session, user and the three token records.
func (s *Store) Save(session Session, user users.User) error {
	if session.UserID != "" && user.ID != "" && session.UserID != user.ID {
		return errors.Wrapf(ErrSessionUserMatch, "Store.Save session %s", session.ID)
	}
	if session.UserID == "" {
		session.UserID = user.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.adapter.Set(KeySession, session)
	s.adapter.Set(KeyUser, user)
	s.adapter.Set(KeyAccessToken, session.AccessToken)
	s.adapter.Set(KeyRefreshToken, session.RefreshToken)
	s.adapter.Set(KeyExpiresAt, session.ExpiresAt)
	return nil
}

// Load returns the stored session and user. A missing half, a mismatched pair or a session
// whose expiry has passed all read as no session; the last two also clear every record.
func (s *Store) Load() (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

func (s *Store) load() (*State, bool) {
	session, ok := storage.Get[Session](s.adapter, KeySession)
	if !ok {
		return nil, false
	}
	user, ok := storage.Get[users.User](s.adapter, KeyUser)
	if !ok {
		return nil, false
	}
	if session.UserID != user.ID {
		s.logger.Warn().Str("session_id", session.ID).Msg("stored session does not belong to stored user, clearing")
		s.clear()
		return nil, false
	}
	if session.ExpiredAt(s.nowFunc()) {
		s.logger.Debug().Str("session_id", session.ID).Msg("stored session expired, clearing")
		s.clear()
		return nil, false
	}
	return &State{Session: session, User: user}, true
}

// Clear removes all five records. It is safe to call with nothing stored.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clear()
}

func (s *Store) clear() {
	for _, k := range recordKeys {
		s.adapter.Remove(k)
	}
}

// IsAuthenticated reports whether a live session is stored.
func (s *Store) IsAuthenticated() bool {
	_, ok := s.Load()
	return ok
}

// CurrentUser returns the user of the live session.
func (s *Store) CurrentUser() (*users.User, bool) {
	state, ok := s.Load()
	if !ok {
		return nil, false
	}
	return &state.User, true
}

// AccessToken returns the stored bearer token without checking its expiry.
func (s *Store) AccessToken() (string, bool) {
	return s.nonEmpty(KeyAccessToken)
}

// RefreshToken returns the stored refresh token.
func (s *Store) RefreshToken() (string, bool) {
	return s.nonEmpty(KeyRefreshToken)
}

// ExpiresAt returns the stored session expiry in epoch milliseconds.
func (s *Store) ExpiresAt() (int64, bool) {
	return storage.Get[int64](s.adapter, KeyExpiresAt)
}

// SessionID returns the id of the stored session, expired or not.
func (s *Store) SessionID() (string, bool) {
	session, ok := storage.Get[Session](s.adapter, KeySession)
	if !ok || session.ID == "" {
		return "", false
	}
	return session.ID, true
}

func (s *Store) nonEmpty(key string) (string, bool) {
	v, ok := storage.Get[string](s.adapter, key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// UpdateTokens replaces the token fields of the stored session after a renewal. Identity
// fields are left alone and the expiry never moves backwards.
func (s *Store) UpdateTokens(accessToken, refreshToken string, expiresAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := storage.Get[Session](s.adapter, KeySession)
	if !ok {
		return errors.Wrap(ErrNoSession, "Store.UpdateTokens")
	}

	if accessToken != "" {
		session.AccessToken = accessToken
	}
	if refreshToken != "" {
		session.RefreshToken = refreshToken
	}
	if expiresAt > session.ExpiresAt {
		session.ExpiresAt = expiresAt
	} else if expiresAt != 0 && expiresAt < session.ExpiresAt {
		s.logger.Debug().
			Str("session_id", session.ID).
			Int64("expires_at", expiresAt).
			Int64("current_expires_at", session.ExpiresAt).
			Msg("ignoring earlier session expiry")
	}

	s.adapter.Set(KeySession, session)
	s.adapter.Set(KeyAccessToken, session.AccessToken)
	s.adapter.Set(KeyRefreshToken, session.RefreshToken)
	s.adapter.Set(KeyExpiresAt, session.ExpiresAt)
	return nil
}

// UpdateUser replaces the stored profile. The ID and Email must match the stored user.
func (s *Store) UpdateUser(user users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := storage.Get[users.User](s.adapter, KeyUser)
	if !ok {
		return errors.Wrap(ErrNoSession, "Store.UpdateUser")
	}
	if !current.SameIdentity(user) {
		return errors.Wrapf(ErrIdentityChanged, "Store.UpdateUser user %s", current.ID)
	}
	s.adapter.Set(KeyUser, user)
	return nil
}
