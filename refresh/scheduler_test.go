package refresh_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/apiclient"
	"github.com/jrsteele09/go-auth-session/claims"
	"github.com/jrsteele09/go-auth-session/environment"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/oauthmodel"
	"github.com/jrsteele09/go-auth-session/refresh"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/storage/memorydriver"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	errs    []error
	mu      sync.Mutex
	tokens  []string
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error) {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	f.tokens = append(f.tokens, refreshToken)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= len(f.errs) && f.errs[n-1] != nil {
		return nil, f.errs[n-1]
	}
	return &oauthmodel.RefreshResponse{
		AccessToken:  makeToken(fixedNow.Add(time.Hour)),
		RefreshToken: "refresh-2",
	}, nil
}

func makeToken(exp time.Time) string {
	payload, _ := json.Marshal(map[string]any{"sub": "user-1", "exp": exp.Unix()})
	return "eyJhbGciOiJIUzI1NiJ9." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

type refreshFixture struct {
	store     *sessions.Store
	api       *fakeRefresher
	reg       *prometheus.Registry
	scheduler *refresh.Scheduler
	successes atomic.Int32
	failures  atomic.Int32
}

func setupScheduler(t *testing.T, values map[string]any, accessExp time.Time) *refreshFixture {
	t.Helper()
	cfg := config.FromMap(values)
	env := &environment.ClientEnvironment{Durable: memorydriver.New()}
	now := func() time.Time { return fixedNow }

	f := &refreshFixture{
		store: sessions.NewStore(storage.NewAdapter(env, storage.BackendDurable, cfg), sessions.WithNowFunc(now)),
		api:   &fakeRefresher{},
		reg:   prometheus.NewRegistry(),
	}
	err := f.store.Save(sessions.Session{
		ID:           "session-1",
		UserID:       "user-1",
		AccessToken:  makeToken(accessExp),
		RefreshToken: "refresh-1",
		ExpiresAt:    fixedNow.Add(24 * time.Hour).UnixMilli(),
	}, users.User{ID: "user-1", Email: "john.doe@example.com"})
	require.NoError(t, err)

	f.scheduler = refresh.New(cfg, f.store, f.api, claims.NewReader(claims.WithNowFunc(now)),
		refresh.WithMetrics(metrics.New(f.reg)),
		refresh.WithOnSuccess(func(*oauthmodel.RefreshResponse) { f.successes.Add(1) }),
		refresh.WithOnError(func(error) { f.failures.Add(1) }),
	)
	t.Cleanup(f.scheduler.Stop)
	return f
}

func (f *refreshFixture) accessToken(t *testing.T) string {
	t.Helper()
	token, ok := f.store.AccessToken()
	require.True(t, ok)
	return token
}

func TestScheduler_DisabledNeverRefreshes(t *testing.T) {
	f := setupScheduler(t, map[string]any{
		"auto_refresh":     false,
		"refresh_interval": "10ms",
	}, fixedNow.Add(-time.Minute))

	f.scheduler.Start(context.Background())
	require.False(t, f.scheduler.Running())

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, f.api.calls.Load())
}

func TestScheduler_StartRefreshesExpiredToken(t *testing.T) {
	stale := fixedNow.Add(30 * time.Second)
	f := setupScheduler(t, map[string]any{
		"auto_refresh":     true,
		"refresh_interval": "10ms",
	}, stale)
	before := f.accessToken(t)

	f.scheduler.Start(context.Background())
	f.scheduler.Start(context.Background())
	require.True(t, f.scheduler.Running())

	require.Eventually(t, func() bool {
		return f.successes.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// The new token is an hour out, so later ticks leave it alone.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), f.api.calls.Load())
	require.NotEqual(t, before, f.accessToken(t))

	refreshToken, ok := f.store.RefreshToken()
	require.True(t, ok)
	require.Equal(t, "refresh-2", refreshToken)

	expiresAt, ok := f.store.ExpiresAt()
	require.True(t, ok)
	require.Equal(t, fixedNow.Add(24*time.Hour).UnixMilli(), expiresAt)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	f := setupScheduler(t, map[string]any{
		"auto_refresh":     true,
		"refresh_interval": "10ms",
	}, fixedNow.Add(time.Hour))

	f.scheduler.Stop()
	f.scheduler.Start(context.Background())
	require.True(t, f.scheduler.Running())

	f.scheduler.Stop()
	f.scheduler.Stop()
	require.False(t, f.scheduler.Running())

	// Restart after stop runs a fresh loop.
	f.scheduler.Start(context.Background())
	require.True(t, f.scheduler.Running())
}

func TestScheduler_StopsWithContext(t *testing.T) {
	f := setupScheduler(t, map[string]any{
		"auto_refresh":     true,
		"refresh_interval": "10ms",
	}, fixedNow.Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	f.scheduler.Start(ctx)
	cancel()

	require.Eventually(t, func() bool {
		return !f.scheduler.Running()
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_CheckSkipsValidToken(t *testing.T) {
	f := setupScheduler(t, map[string]any{}, fixedNow.Add(61*time.Second))

	require.NoError(t, f.scheduler.Check(context.Background()))
	require.Zero(t, f.api.calls.Load())
}

func TestScheduler_CheckWithoutSession(t *testing.T) {
	f := setupScheduler(t, map[string]any{}, fixedNow.Add(-time.Hour))
	f.store.Clear()

	require.NoError(t, f.scheduler.Check(context.Background()))
	require.Zero(t, f.api.calls.Load())
}

func TestScheduler_RefreshWithoutRefreshToken(t *testing.T) {
	f := setupScheduler(t, map[string]any{}, fixedNow.Add(-time.Hour))
	require.NoError(t, f.store.Save(sessions.Session{
		ID:          "session-1",
		UserID:      "user-1",
		AccessToken: makeToken(fixedNow.Add(-time.Hour)),
		ExpiresAt:   fixedNow.Add(time.Hour).UnixMilli(),
	}, users.User{ID: "user-1"}))

	_, err := f.scheduler.Refresh(context.Background())
	require.ErrorIs(t, err, refresh.ErrNoRefreshToken)
	require.Zero(t, f.api.calls.Load())
}

func TestScheduler_FailureKeepsTokens(t *testing.T) {
	f := setupScheduler(t, map[string]any{"refresh_retries": 3}, fixedNow.Add(-time.Minute))
	f.api.errs = []error{&apiclient.Error{Message: "revoked", Code: "UNAUTHORIZED", HTTPStatus: 401}}
	before := f.accessToken(t)

	_, err := f.scheduler.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, 401, apiclient.StatusOf(err))

	// A backend answer is final: no retry.
	require.Equal(t, int32(1), f.api.calls.Load())
	require.Equal(t, int32(1), f.failures.Load())
	require.Zero(t, f.successes.Load())
	require.Equal(t, before, f.accessToken(t))

	refreshToken, ok := f.store.RefreshToken()
	require.True(t, ok)
	require.Equal(t, "refresh-1", refreshToken)

	expected := `
# HELP rauth_refresh_total Token refresh attempts by outcome.
# TYPE rauth_refresh_total counter
rauth_refresh_total{outcome="failure"} 1
`
	require.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "rauth_refresh_total"))
}

func TestScheduler_RetriesNetworkErrors(t *testing.T) {
	f := setupScheduler(t, map[string]any{"refresh_retries": 2}, fixedNow.Add(-time.Minute))
	networkErr := &apiclient.Error{Message: "connection refused", Code: apiclient.CodeNetworkError}
	f.api.errs = []error{networkErr, networkErr}

	resp, err := f.scheduler.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "refresh-2", resp.RefreshToken)
	require.Equal(t, int32(3), f.api.calls.Load())
	require.Equal(t, fixedNow.Add(time.Hour).UnixMilli(), resp.ExpiresAt)
}

func TestScheduler_NoRetryByDefault(t *testing.T) {
	f := setupScheduler(t, map[string]any{}, fixedNow.Add(-time.Minute))
	f.api.errs = []error{&apiclient.Error{Message: "connection refused", Code: apiclient.CodeNetworkError}}

	_, err := f.scheduler.Refresh(context.Background())
	require.Error(t, err)
	require.True(t, apiclient.IsNetwork(err))
	require.Equal(t, int32(1), f.api.calls.Load())
}

func TestScheduler_ConcurrentRefreshesCoalesce(t *testing.T) {
	f := setupScheduler(t, map[string]any{}, fixedNow.Add(-time.Minute))
	f.api.release = make(chan struct{})

	const callers = 8
	var (
		started sync.WaitGroup
		done    sync.WaitGroup
		results = make([]*oauthmodel.RefreshResponse, callers)
		errs    = make([]error, callers)
	)
	started.Add(callers)
	done.Add(callers)
	for i := range callers {
		go func() {
			defer done.Done()
			started.Done()
			results[i], errs[i] = f.scheduler.Refresh(context.Background())
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool {
		return f.api.calls.Load() == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.api.release)
	done.Wait()

	require.Equal(t, int32(1), f.api.calls.Load())
	require.Equal(t, int32(1), f.successes.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		require.Same(t, results[0], results[i])
	}
}

func TestTokenSource(t *testing.T) {
	t.Run("valid token is served as is", func(t *testing.T) {
		f := setupScheduler(t, map[string]any{}, fixedNow.Add(time.Hour))
		want := f.accessToken(t)

		tok, err := f.scheduler.TokenSource(context.Background()).Token()
		require.NoError(t, err)
		require.Equal(t, want, tok.AccessToken)
		require.Equal(t, "Bearer", tok.TokenType)
		require.Equal(t, "refresh-1", tok.RefreshToken)
		require.True(t, tok.Expiry.Equal(fixedNow.Add(time.Hour)))
		require.Zero(t, f.api.calls.Load())
	})

	t.Run("expiring token is refreshed first", func(t *testing.T) {
		f := setupScheduler(t, map[string]any{}, fixedNow.Add(10*time.Second))

		tok, err := f.scheduler.TokenSource(context.Background()).Token()
		require.NoError(t, err)
		require.Equal(t, int32(1), f.api.calls.Load())
		require.Equal(t, f.accessToken(t), tok.AccessToken)
		require.Equal(t, "refresh-2", tok.RefreshToken)
	})

	t.Run("no session", func(t *testing.T) {
		f := setupScheduler(t, map[string]any{}, fixedNow.Add(time.Hour))
		f.store.Clear()

		_, err := f.scheduler.TokenSource(context.Background()).Token()
		require.ErrorIs(t, err, sessions.ErrNoSession)
	})
}

type refresherFunc func(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error) {
	return f(ctx, refreshToken)
}

func TestScheduler_ExpiresInSetsSessionExpiry(t *testing.T) {
	cfg := config.FromMap(map[string]any{})
	env := &environment.ClientEnvironment{Durable: memorydriver.New()}
	now := func() time.Time { return fixedNow }
	store := sessions.NewStore(storage.NewAdapter(env, storage.BackendDurable, cfg), sessions.WithNowFunc(now))
	require.NoError(t, store.Save(sessions.Session{
		ID:           "session-1",
		UserID:       "user-1",
		AccessToken:  makeToken(fixedNow),
		RefreshToken: "refresh-1",
		ExpiresAt:    fixedNow.Add(time.Minute).UnixMilli(),
	}, users.User{ID: "user-1"}))

	api := refresherFunc(func(context.Context, string) (*oauthmodel.RefreshResponse, error) {
		return &oauthmodel.RefreshResponse{AccessToken: "opaque-access", ExpiresIn: 3600}, nil
	})
	s := refresh.New(cfg, store, api, nil, refresh.WithNowFunc(now))

	resp, err := s.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(time.Hour).UnixMilli(), resp.ExpiresAt)

	expiresAt, ok := store.ExpiresAt()
	require.True(t, ok)
	require.Equal(t, fixedNow.Add(time.Hour).UnixMilli(), expiresAt)

	// Refresh token not rotated: the old one stays.
	refreshToken, ok := store.RefreshToken()
	require.True(t, ok)
	require.Equal(t, "refresh-1", refreshToken)
}

func TestScheduler_StopFromCallback(t *testing.T) {
	tests := map[string]struct {
		errs     []error
		callback func(stop func()) []refresh.Option
	}{
		"error callback": {
			errs: []error{&apiclient.Error{Message: "revoked", Code: "UNAUTHORIZED", HTTPStatus: 401}},
			callback: func(stop func()) []refresh.Option {
				return []refresh.Option{refresh.WithOnError(func(error) { stop() })}
			},
		},
		"success callback": {
			callback: func(stop func()) []refresh.Option {
				return []refresh.Option{refresh.WithOnSuccess(func(*oauthmodel.RefreshResponse) { stop() })}
			},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := setupScheduler(t, map[string]any{}, fixedNow.Add(-time.Minute))
			f.api.errs = tt.errs
			cfg := config.FromMap(map[string]any{"auto_refresh": true, "refresh_interval": "10ms"})

			var (
				s       *refresh.Scheduler
				once    sync.Once
				stopped = make(chan struct{})
			)
			stop := func() {
				s.Stop()
				once.Do(func() { close(stopped) })
			}
			s = refresh.New(cfg, f.store, f.api, claims.NewReader(claims.WithNowFunc(func() time.Time { return fixedNow })), tt.callback(stop)...)
			t.Cleanup(s.Stop)
			s.Start(context.Background())

			select {
			case <-stopped:
			case <-time.After(2 * time.Second):
				t.Fatal("Stop called from a callback did not return")
			}
			require.False(t, s.Running())

			calls := f.api.calls.Load()
			time.Sleep(50 * time.Millisecond)
			require.Equal(t, calls, f.api.calls.Load())

			// The scheduler can be started again afterwards.
			s.Start(context.Background())
			require.True(t, s.Running())
		})
	}
}

func TestScheduler_JoinerSurvivesLeaderCancellation(t *testing.T) {
	f := setupScheduler(t, map[string]any{}, fixedNow.Add(-time.Minute))
	f.api.release = make(chan struct{})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.scheduler.Refresh(leaderCtx)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool {
		return f.api.calls.Load() == 1
	}, time.Second, time.Millisecond)

	type outcome struct {
		resp *oauthmodel.RefreshResponse
		err  error
	}
	joined := make(chan outcome, 1)
	go func() {
		resp, err := f.scheduler.Refresh(context.Background())
		joined <- outcome{resp, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	require.Eventually(t, func() bool {
		return f.api.calls.Load() == 2
	}, time.Second, time.Millisecond)
	close(f.api.release)

	got := <-joined
	require.NoError(t, got.err)
	require.Equal(t, "refresh-2", got.resp.RefreshToken)
	require.Equal(t, got.resp.AccessToken, f.accessToken(t))
}
