package oauthflow_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/apiclient"
	"github.com/jrsteele09/go-auth-session/csrf"
	"github.com/jrsteele09/go-auth-session/environment"
	"github.com/jrsteele09/go-auth-session/internal/config"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/oauthflow"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/storage/memorydriver"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_800_000_000, 0).UTC()

type navigationLog struct {
	mu      sync.Mutex
	targets []string
	err     error
}

func (n *navigationLog) Navigate(_ context.Context, target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
	return n.err
}

func (n *navigationLog) last(t *testing.T) *url.URL {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.targets)
	u, err := url.Parse(n.targets[len(n.targets)-1])
	require.NoError(t, err)
	return u
}

type flowFixture struct {
	durable   *memorydriver.Driver
	perTab    *memorydriver.Driver
	navigator *navigationLog
	guard     *csrf.Guard
	store     *sessions.Store
	exchanges atomic.Int32
	status    int
	response  map[string]any
	backend   *httptest.Server
	flow      *oauthflow.Controller
}

func setupFlow(t *testing.T) *flowFixture {
	t.Helper()
	f := &flowFixture{
		durable:   memorydriver.New(),
		perTab:    memorydriver.New(),
		navigator: &navigationLog{},
		status:    http.StatusOK,
		response: map[string]any{
			"user":         map[string]any{"id": "user-1", "email": "john.doe@example.com", "name": "John"},
			"session":      map[string]any{"id": "session-1", "userId": "user-1"},
			"accessToken":  "access-1",
			"refreshToken": "refresh-1",
			"expiresAt":    fixedNow.Add(time.Hour).UnixMilli(),
		},
	}
	f.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == apiclient.RouteCallback {
			f.exchanges.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(f.response)
	}))
	t.Cleanup(f.backend.Close)

	cfg := config.FromMap(map[string]any{
		"api_base_url":   f.backend.URL,
		"app_id":         "test-app",
		"redirect_uri":   "http://localhost:8765/callback",
		"storage_prefix": "rauth_",
	})
	env := &environment.ClientEnvironment{Durable: f.durable, PerTab: f.perTab, Navigator: f.navigator}
	now := func() time.Time { return fixedNow }

	f.store = sessions.NewStore(storage.NewAdapter(env, storage.BackendDurable, cfg), sessions.WithNowFunc(now))
	f.guard = csrf.NewGuard(storage.NewAdapter(env, storage.BackendPerTab, cfg))
	api := apiclient.New(cfg, f.store)
	f.flow = oauthflow.New(env, f.guard, api, f.store, oauthflow.WithNowFunc(now))
	return f
}

func (f *flowFixture) durableKeys(t *testing.T) []string {
	t.Helper()
	keys, err := f.durable.Keys()
	require.NoError(t, err)
	return keys
}

func (f *flowFixture) initiate(t *testing.T) string {
	t.Helper()
	_, err := f.flow.Initiate(context.Background(), "github")
	require.NoError(t, err)
	require.Equal(t, oauthflow.AwaitingRedirect, f.flow.State())
	return f.navigator.last(t).Query().Get("state")
}

func makeToken(t *testing.T, payload map[string]any) string {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(data) + ".sig"
}

func TestController_Initiate(t *testing.T) {
	f := setupFlow(t)
	require.Equal(t, oauthflow.Idle, f.flow.State())

	target, err := f.flow.Initiate(context.Background(), "github")
	require.NoError(t, err)

	u := f.navigator.last(t)
	require.Equal(t, target, u.String())
	require.Equal(t, apiclient.RouteAuthorize, u.Path)
	q := u.Query()
	require.Equal(t, "github", q.Get("provider"))
	require.Equal(t, "test-app", q.Get("app_id"))
	require.Equal(t, "http://localhost:8765/callback", q.Get("redirect_uri"))
	require.NotEmpty(t, q.Get("state"))

	// The state lives in per-tab storage, not next to the session.
	_, ok, err := f.perTab.Get("rauth_oauth_state")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, f.durableKeys(t))
	require.Zero(t, f.exchanges.Load())
}

func TestController_InitiateNavigationFailure(t *testing.T) {
	f := setupFlow(t)
	f.navigator.err = errors.New("no browser")

	_, err := f.flow.Initiate(context.Background(), "github")
	require.Error(t, err)
	require.Equal(t, oauthflow.Failed, f.flow.State())
	require.Error(t, f.flow.Err())

	keys, err := f.perTab.Keys()
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestController_CodeFlow(t *testing.T) {
	f := setupFlow(t)
	state := f.initiate(t)

	result, err := f.flow.CompleteFromCallback(context.Background(), url.Values{
		"code":  {"code-1"},
		"state": {state},
	})
	require.NoError(t, err)
	require.Equal(t, oauthflow.Authenticated, f.flow.State())
	require.Equal(t, "user-1", result.User.ID)
	require.Equal(t, "access-1", result.AccessToken)
	require.Equal(t, "refresh-1", result.RefreshToken)
	require.Equal(t, "github", result.Session.Provider)
	require.Equal(t, int32(1), f.exchanges.Load())

	loaded, ok := f.store.Load()
	require.True(t, ok)
	require.Equal(t, result.Session, loaded.Session)
	require.Equal(t, result.User, loaded.User)

	// Replaying the same callback fails: the state was consumed.
	_, err = f.flow.CompleteFromCallback(context.Background(), url.Values{
		"code":  {"code-1"},
		"state": {state},
	})
	require.ErrorIs(t, err, autherrors.ErrCSRFValidation)
	require.Equal(t, int32(1), f.exchanges.Load())
}

func TestController_ProviderError(t *testing.T) {
	f := setupFlow(t)
	f.initiate(t)

	_, err := f.flow.CompleteFromCallback(context.Background(), url.Values{
		"error":             {"access_denied"},
		"error_description": {"The user denied access"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "The user denied access")
	require.ErrorIs(t, err, oauthflow.ErrOAuthProvider)

	var providerErr *oauthflow.ProviderError
	require.True(t, errors.As(err, &providerErr))
	require.Equal(t, "access_denied", providerErr.Code)

	require.Equal(t, oauthflow.Failed, f.flow.State())
	require.Empty(t, f.durableKeys(t))
	require.Zero(t, f.exchanges.Load())
}

func TestController_MismatchedStateNeverExchanges(t *testing.T) {
	f := setupFlow(t)
	f.initiate(t)

	_, err := f.flow.CompleteFromCallback(context.Background(), url.Values{
		"code":  {"code-1"},
		"state": {"forged-state"},
	})
	require.ErrorIs(t, err, autherrors.ErrCSRFValidation)
	require.Equal(t, oauthflow.Failed, f.flow.State())
	require.Zero(t, f.exchanges.Load())
	require.Empty(t, f.durableKeys(t))
}

func TestController_StateWithoutInitiateFails(t *testing.T) {
	f := setupFlow(t)

	_, err := f.flow.CompleteFromCallback(context.Background(), url.Values{
		"code":  {"code-1"},
		"state": {"some-state"},
	})
	require.ErrorIs(t, err, autherrors.ErrCSRFValidation)
	require.Zero(t, f.exchanges.Load())
}

func TestController_MissingStateToleratedForCodeFlow(t *testing.T) {
	f := setupFlow(t)
	f.initiate(t)

	_, err := f.flow.CompleteFromCallback(context.Background(), url.Values{"code": {"code-1"}})
	require.NoError(t, err)
	require.Equal(t, int32(1), f.exchanges.Load())
	require.False(t, f.guard.Validate("anything"))
}

func TestController_ExchangeFailureWritesNothing(t *testing.T) {
	f := setupFlow(t)
	f.status = http.StatusBadRequest
	f.response = map[string]any{"error": "invalid_grant", "error_description": "code expired"}
	state := f.initiate(t)

	_, err := f.flow.CompleteFromCallback(context.Background(), url.Values{
		"code":  {"code-1"},
		"state": {state},
	})
	require.Error(t, err)

	var apiErr *apiclient.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	require.Equal(t, "code expired", apiErr.Message)

	require.Equal(t, oauthflow.Failed, f.flow.State())
	require.Empty(t, f.durableKeys(t))
}

func TestController_IncompleteExchangeResponse(t *testing.T) {
	f := setupFlow(t)
	f.response = map[string]any{"user": map[string]any{"id": "user-1"}}

	_, err := f.flow.CompleteFromCallback(context.Background(), url.Values{"code": {"code-1"}})
	require.ErrorIs(t, err, autherrors.ErrInvalidGrantResponse)
	require.Empty(t, f.durableKeys(t))
}

func TestController_ExchangeWithoutExpiresAtUsesTokenExpiry(t *testing.T) {
	f := setupFlow(t)
	token := makeToken(t, map[string]any{"sub": "user-1", "exp": fixedNow.Add(time.Hour).Unix()})
	f.response = map[string]any{
		"user":        map[string]any{"id": "user-1"},
		"session":     map[string]any{"id": "session-1", "userId": "user-1"},
		"accessToken": token,
	}

	result, err := f.flow.CompleteFromCallback(context.Background(), url.Values{"code": {"code-1"}})
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(time.Hour).UnixMilli(), result.Session.ExpiresAt)
	require.Equal(t, result.Session.ExpiresAt, result.ExpiresAt)
	require.Equal(t, oauthflow.Authenticated, f.flow.State())
	require.True(t, f.store.IsAuthenticated())
}

func TestController_ExchangeWithoutAnyExpiryFails(t *testing.T) {
	tests := map[string]map[string]any{
		"opaque token": {
			"user":        map[string]any{"id": "user-1"},
			"accessToken": "access-1",
		},
		"expiry in the past": {
			"user":        map[string]any{"id": "user-1"},
			"accessToken": "access-1",
			"expiresAt":   fixedNow.Add(-time.Minute).UnixMilli(),
		},
	}
	for name, response := range tests {
		t.Run(name, func(t *testing.T) {
			f := setupFlow(t)
			f.response = response

			_, err := f.flow.CompleteFromCallback(context.Background(), url.Values{"code": {"code-1"}})
			require.ErrorIs(t, err, autherrors.ErrInvalidGrantResponse)
			require.Equal(t, oauthflow.Failed, f.flow.State())
			require.False(t, f.store.IsAuthenticated())
			require.Empty(t, f.durableKeys(t))
		})
	}
}

func TestController_DirectToken(t *testing.T) {
	f := setupFlow(t)
	token := makeToken(t, map[string]any{
		"sub":            "user-7",
		"email":          "seven@example.com",
		"name":           "Seven",
		"picture":        "https://example.com/7.png",
		"email_verified": true,
		"sid":            "session-7",
		"provider":       "google",
		"iat":            fixedNow.Unix(),
		"exp":            fixedNow.Add(time.Hour).Unix(),
	})

	result, err := f.flow.CompleteFromCallback(context.Background(), url.Values{"token": {token}})
	require.NoError(t, err)
	require.Zero(t, f.exchanges.Load())

	require.Equal(t, "user-7", result.User.ID)
	require.Equal(t, "seven@example.com", result.User.Email)
	require.Equal(t, "Seven", result.User.Name)
	require.Equal(t, "https://example.com/7.png", result.User.AvatarURL)
	require.True(t, result.User.EmailVerified)
	require.Equal(t, "session-7", result.Session.ID)
	require.Equal(t, "user-7", result.Session.UserID)
	require.Equal(t, "google", result.Session.Provider)
	require.Equal(t, token, result.Session.AccessToken)
	require.Equal(t, fixedNow.Add(time.Hour).UnixMilli(), result.ExpiresAt)

	at, ok := f.store.AccessToken()
	require.True(t, ok)
	require.Equal(t, token, at)
	require.True(t, f.store.IsAuthenticated())
}

func TestController_DirectTokenGeneratesSessionID(t *testing.T) {
	f := setupFlow(t)
	f.initiate(t)
	token := makeToken(t, map[string]any{"sub": "user-8", "exp": fixedNow.Add(time.Hour).Unix()})

	result, err := f.flow.CompleteFromCallback(context.Background(), url.Values{"token": {token}})
	require.NoError(t, err)
	require.Len(t, result.Session.ID, 36)
	require.Equal(t, "github", result.Session.Provider)
}

func TestController_DirectTokenRejected(t *testing.T) {
	tests := map[string]string{
		"malformed":  "not-a-token",
		"no subject": makeToken(t, map[string]any{"exp": fixedNow.Add(time.Hour).Unix()}),
		"no expiry":  makeToken(t, map[string]any{"sub": "user-1"}),
		"expired":    makeToken(t, map[string]any{"sub": "user-1", "exp": fixedNow.Add(-time.Minute).Unix()}),
		"in buffer":  makeToken(t, map[string]any{"sub": "user-1", "exp": fixedNow.Add(30 * time.Second).Unix()}),
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			f := setupFlow(t)
			_, err := f.flow.CompleteFromCallback(context.Background(), url.Values{"token": {token}})
			require.Error(t, err)
			require.Equal(t, oauthflow.Failed, f.flow.State())
			require.Empty(t, f.durableKeys(t))
		})
	}
}

func TestController_EmptyCallback(t *testing.T) {
	f := setupFlow(t)
	_, err := f.flow.CompleteFromCallback(context.Background(), url.Values{"state": {"x"}})
	require.ErrorIs(t, err, oauthflow.ErrMissingGrant)
}

func TestController_Reset(t *testing.T) {
	f := setupFlow(t)
	state := f.initiate(t)

	f.flow.Reset()
	require.Equal(t, oauthflow.Idle, f.flow.State())
	require.False(t, f.guard.Validate(state))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "idle", oauthflow.Idle.String())
	require.Equal(t, "awaiting_redirect", oauthflow.AwaitingRedirect.String())
	require.Equal(t, "exchange_in_flight", oauthflow.ExchangeInFlight.String())
	require.Equal(t, "authenticated", oauthflow.Authenticated.String())
	require.Equal(t, "failed", oauthflow.Failed.String())
	require.Equal(t, "unknown", oauthflow.State(42).String())
}
