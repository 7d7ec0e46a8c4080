// Package refresh keeps the stored access token alive. A Scheduler checks the token on an
// interval and renews it through the backend shortly before it expires.
package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jrsteele09/go-auth-session/apiclient"
	"github.com/jrsteele09/go-auth-session/claims"
	"github.com/jrsteele09/go-auth-session/internal/config"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/oauthmodel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	anonymousKey        = "anonymous"
	retryInitialBackoff = 250 * time.Millisecond
	maxJoinAttempts     = 3
)

var ErrNoRefreshToken = autherrors.ErrNoRefreshToken

// TokenStore is the part of the session store the scheduler reads and rotates.
type TokenStore interface {
	AccessToken() (string, bool)
	RefreshToken() (string, bool)
	SessionID() (string, bool)
	UpdateTokens(accessToken, refreshToken string, expiresAt int64) error
}

// Refresher calls the backend refresh endpoint.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error)
}

type Scheduler struct {
	store     TokenStore
	api       Refresher
	reader    *claims.Reader
	enabled   bool
	interval  time.Duration
	retries   int
	onSuccess func(*oauthmodel.RefreshResponse)
	onError   func(error)
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	nowFunc   func() time.Time

	flight singleflight.Group
	// callbacks counts onSuccess/onError invocations in progress.
	callbacks atomic.Int32

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Scheduler)

// WithOnSuccess registers a callback run after every successful renewal.
func WithOnSuccess(fn func(*oauthmodel.RefreshResponse)) Option {
	return func(s *Scheduler) {
		s.onSuccess = fn
	}
}

// WithOnError registers a callback run after every failed renewal.
func WithOnError(fn func(error)) Option {
	return func(s *Scheduler) {
		s.onError = fn
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.nowFunc = now
	}
}

func New(cfg config.RefreshConfig, store TokenStore, api Refresher, reader *claims.Reader, options ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		api:      api,
		reader:   reader,
		enabled:  cfg.GetAutoRefresh(),
		interval: cfg.GetRefreshInterval(),
		retries:  cfg.GetRefreshRetries(),
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	if s.reader == nil {
		s.reader = claims.NewReader(claims.WithNowFunc(s.nowFunc))
	}
	return s
}

// Start runs one check immediately and then one per interval until ctx is cancelled or
// Stop is called. It does nothing when auto refresh is disabled or a loop is already running.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.enabled {
		s.logger.Debug().Msg("auto refresh disabled")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
}

// Stop ends the loop and waits for it to exit. Calling it again, or without Start, is a no-op.
// Called from a success or error callback it cancels the loop without waiting, since the
// loop may be the goroutine running that callback.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	if s.callbacks.Load() > 0 {
		return
	}
	<-done
}

// Running reports whether the check loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.Check(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("scheduled refresh failed")
	}
}

// Check renews the token when one is stored and it is inside the expiry buffer.
func (s *Scheduler) Check(ctx context.Context) error {
	token, ok := s.store.AccessToken()
	if !ok {
		return nil
	}
	if !s.reader.IsExpired(token) {
		return nil
	}
	_, err := s.Refresh(ctx)
	return err
}

// Refresh renews the token pair now. Concurrent calls for the same session share a single
// backend request. On failure the stored tokens are left as they were.
func (s *Scheduler) Refresh(ctx context.Context) (*oauthmodel.RefreshResponse, error) {
	refreshToken, ok := s.store.RefreshToken()
	if !ok {
		s.metrics.Refresh(metrics.OutcomeSkipped)
		return nil, errors.Wrap(ErrNoRefreshToken, "Scheduler.Refresh")
	}
	key, ok := s.store.SessionID()
	if !ok {
		key = anonymousKey
	}

	for attempt := 1; ; attempt++ {
		v, err, shared := s.flight.Do(key, func() (any, error) {
			return s.refresh(ctx, refreshToken)
		})
		if shared {
			s.logger.Debug().Str("session_id", key).Msg("joined in-flight refresh")
		}
		// The shared call ran on the leader's context. When that context was cancelled but
		// ours is live, run the refresh again rather than reporting someone else's cancellation.
		if err != nil && shared && ctx.Err() == nil && isContextError(err) && attempt < maxJoinAttempts {
			if refreshToken, ok = s.store.RefreshToken(); !ok {
				return nil, errors.Wrap(ErrNoRefreshToken, "Scheduler.Refresh")
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return v.(*oauthmodel.RefreshResponse), nil
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Scheduler) refresh(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error) {
	resp, err := s.callWithRetry(ctx, refreshToken)
	if err == nil && resp.AccessToken == "" {
		err = errors.Wrap(autherrors.ErrInvalidGrantResponse, "Scheduler.Refresh no access token")
	}
	if err == nil {
		resp.ExpiresAt = s.expiresAt(resp)
		err = s.store.UpdateTokens(resp.AccessToken, resp.RefreshToken, resp.ExpiresAt)
	}
	if err != nil {
		s.metrics.Refresh(metrics.OutcomeFailure)
		s.logger.Warn().Err(err).Msg("token refresh failed, keeping current tokens")
		if s.onError != nil {
			s.callbacks.Add(1)
			defer s.callbacks.Add(-1)
			s.onError(err)
		}
		return nil, err
	}

	s.metrics.Refresh(metrics.OutcomeSuccess)
	s.logger.Debug().Int64("expires_at", resp.ExpiresAt).Msg("token refreshed")
	if s.onSuccess != nil {
		s.callbacks.Add(1)
		defer s.callbacks.Add(-1)
		s.onSuccess(resp)
	}
	return resp, nil
}

// expiresAt picks the new session expiry: the backend's absolute time, then its relative
// lifetime, then the token's own exp claim. Zero leaves the stored expiry unchanged.
func (s *Scheduler) expiresAt(resp *oauthmodel.RefreshResponse) int64 {
	switch {
	case resp.ExpiresAt > 0:
		return resp.ExpiresAt
	case resp.ExpiresIn > 0:
		return s.nowFunc().Add(time.Duration(resp.ExpiresIn) * time.Second).UnixMilli()
	}
	ms, _ := s.reader.ExpirationMillis(resp.AccessToken)
	return ms
}

// callWithRetry retries transport failures only. A backend that answered, even with an
// error, is not asked again.
func (s *Scheduler) callWithRetry(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error) {
	if s.retries == 0 {
		return s.api.Refresh(ctx, refreshToken)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = retryInitialBackoff
	expBackoff.MaxInterval = 20 * retryInitialBackoff
	expBackoff.Reset()

	attempt := 0
	operation := func() (*oauthmodel.RefreshResponse, error) {
		attempt++
		resp, err := s.api.Refresh(ctx, refreshToken)
		if err != nil && !apiclient.IsNetwork(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(s.retries+1)), // #nosec G115 -- retries is never negative
		backoff.WithNotify(func(err error, d time.Duration) {
			s.logger.Debug().Err(err).Int("attempt", attempt).Dur("wait", d).Msg("retrying refresh")
		}),
	)
}
