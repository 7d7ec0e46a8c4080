// Package oauthflow drives a sign in from the authorize redirect to a stored session.
package oauthflow

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/claims"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/oauthmodel"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const unknownProvider = "unknown"

// Navigator sends the user agent to another page.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// StateGuard issues and checks the CSRF state.
type StateGuard interface {
	Generate() (string, error)
	Validate(received string) bool
	Discard()
}

// Backend is the part of the API client the flow needs.
type Backend interface {
	AuthorizeURL(provider, state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (*sessions.AuthResult, error)
}

// SessionWriter persists a completed sign in.
type SessionWriter interface {
	Save(session sessions.Session, user users.User) error
}

type Controller struct {
	navigator Navigator
	guard     StateGuard
	backend   Backend
	store     SessionWriter
	reader    *claims.Reader
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	nowFunc   func() time.Time

	mu       sync.Mutex
	state    State
	provider string
	lastErr  error
}

type Option func(*Controller)

func WithClaimsReader(r *claims.Reader) Option {
	return func(c *Controller) {
		c.reader = r
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Controller) {
		c.nowFunc = now
	}
}

func New(navigator Navigator, guard StateGuard, backend Backend, store SessionWriter, options ...Option) *Controller {
	c := &Controller{
		navigator: navigator,
		guard:     guard,
		backend:   backend,
		store:     store,
		logger:    log.Logger,
		state:     Idle,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.nowFunc == nil {
		c.nowFunc = time.Now
	}
	if c.reader == nil {
		c.reader = claims.NewReader(claims.WithNowFunc(c.nowFunc))
	}
	return c
}

// State returns the current flow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the flow to Failed, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Reset returns the controller to Idle and drops any pending state.
func (c *Controller) Reset() {
	c.guard.Discard()
	c.setState(Idle, nil)
}

// Initiate generates a CSRF state and navigates to the backend's authorize URL for
// provider. No request is made from here; the backend performs the provider handshake.
// The authorize URL is returned so callers without navigation can show it.
func (c *Controller) Initiate(ctx context.Context, provider string) (string, error) {
	state, err := c.guard.Generate()
	if err != nil {
		return "", c.fail(errors.Wrap(err, "Controller.Initiate Generate"))
	}
	target, err := c.backend.AuthorizeURL(provider, state)
	if err != nil {
		c.guard.Discard()
		return "", c.fail(errors.Wrap(err, "Controller.Initiate AuthorizeURL"))
	}

	c.mu.Lock()
	c.state = AwaitingRedirect
	c.provider = provider
	c.lastErr = nil
	c.mu.Unlock()

	if err := c.navigator.Navigate(ctx, target); err != nil {
		c.guard.Discard()
		return target, c.fail(errors.Wrap(err, "Controller.Initiate Navigate"))
	}
	c.logger.Debug().Str("provider", provider).Msg("redirecting to authorize endpoint")
	return target, nil
}

// CompleteFromCallback finishes the flow from the redirect-back query. Nothing is stored
// unless the whole flow succeeds.
func (c *Controller) CompleteFromCallback(ctx context.Context, query url.Values) (*sessions.AuthResult, error) {
	params := oauthmodel.ParseCallback(query)
	kind := params.Kind()

	var (
		result *sessions.AuthResult
		err    error
	)
	switch kind {
	case oauthmodel.CallbackError:
		c.guard.Discard()
		err = &ProviderError{Code: params.Error, Description: params.ErrorDescription}
	case oauthmodel.CallbackToken:
		c.guard.Discard()
		result, err = c.completeFromToken(params.Token)
	case oauthmodel.CallbackCode:
		result, err = c.completeFromCode(ctx, params)
	default:
		err = ErrMissingGrant
	}

	if err == nil {
		err = c.store.Save(result.Session, result.User)
	}
	if err != nil {
		c.metrics.Callback(kind.String(), metrics.OutcomeFailure)
		c.logger.Err(err).Str("callback", kind.String()).Msg("oauth callback failed")
		return nil, c.fail(err)
	}

	c.metrics.Callback(kind.String(), metrics.OutcomeSuccess)
	c.setState(Authenticated, nil)
	c.logger.Info().Str("user_id", result.User.ID).Str("provider", result.Session.Provider).Msg("signed in")
	return result, nil
}

// completeFromCode validates the state, then exchanges the code. A callback without any
// state is accepted for older backends that don't echo it; a present but wrong state never
// reaches the backend.
func (c *Controller) completeFromCode(ctx context.Context, params oauthmodel.CallbackParameters) (*sessions.AuthResult, error) {
	if params.State == "" {
		c.logger.Warn().Msg("callback carried no state parameter, skipping csrf validation")
		c.guard.Discard()
	} else if !c.guard.Validate(params.State) {
		return nil, errors.Wrap(autherrors.ErrCSRFValidation, "Controller.CompleteFromCallback")
	}

	c.setState(ExchangeInFlight, nil)
	result, err := c.backend.ExchangeCode(ctx, params.Code)
	if err != nil {
		return nil, errors.Wrap(err, "Controller.CompleteFromCallback ExchangeCode")
	}
	if result.User.ID == "" || result.Session.AccessToken == "" {
		return nil, errors.Wrap(autherrors.ErrInvalidGrantResponse, "Controller.CompleteFromCallback")
	}
	if result.Session.ExpiresAt <= 0 {
		result.Session.ExpiresAt, _ = c.reader.ExpirationMillis(result.Session.AccessToken)
	}
	if result.Session.ExpiresAt <= c.nowFunc().UnixMilli() {
		return nil, errors.Wrap(autherrors.ErrInvalidGrantResponse, "Controller.CompleteFromCallback session already expired")
	}
	result.ExpiresAt = result.Session.ExpiresAt
	if result.Session.Provider == "" {
		result.Session.Provider = c.currentProvider()
	}
	return result, nil
}

// completeFromToken builds the session from a backend issued token's own claims. There is
// no redirect-out state on this path, so it carries no CSRF protection: it relies entirely
// on the backend having issued the token to this redirect URI.
func (c *Controller) completeFromToken(token string) (*sessions.AuthResult, error) {
	c.logger.Warn().Msg("direct token callback: csrf state is not checked on this path")

	tc, ok := c.reader.Decode(token)
	if !ok {
		return nil, errors.Wrap(ErrInvalidToken, "Controller.CompleteFromCallback decode")
	}
	sub, ok := tc.Subject()
	if !ok {
		return nil, errors.Wrap(ErrInvalidToken, "Controller.CompleteFromCallback token has no subject")
	}
	exp, ok := tc.ExpiresAt()
	if !ok {
		return nil, errors.Wrap(ErrInvalidToken, "Controller.CompleteFromCallback token has no expiry")
	}
	if c.reader.IsExpired(token) {
		return nil, errors.Wrap(autherrors.ErrTokenExpired, "Controller.CompleteFromCallback")
	}
	now := c.nowFunc()

	issuedAt, ok := tc.IssuedAt()
	if !ok {
		issuedAt = now
	}
	user := users.User{ID: sub, CreatedAt: issuedAt, UpdatedAt: issuedAt}
	user.Email, _ = tc.String("email")
	user.Name, _ = tc.String("name")
	if user.AvatarURL, ok = tc.String("avatar_url"); !ok {
		user.AvatarURL, _ = tc.String("picture")
	}
	user.EmailVerified, _ = tc.Bool("email_verified")

	sessionID, ok := tc.String("sid")
	if !ok {
		sessionID = uuid.NewString()
	}
	provider, ok := tc.String("provider")
	if !ok {
		provider = c.currentProvider()
	}
	session := sessions.Session{
		ID:          sessionID,
		UserID:      sub,
		AccessToken: token,
		ExpiresAt:   exp.UnixMilli(),
		Provider:    provider,
		CreatedAt:   issuedAt,
	}
	return &sessions.AuthResult{
		User:        user,
		Session:     session,
		AccessToken: token,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func (c *Controller) currentProvider() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider == "" {
		return unknownProvider
	}
	return c.provider
}

func (c *Controller) fail(err error) error {
	c.setState(Failed, err)
	return err
}

func (c *Controller) setState(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.lastErr = err
}
