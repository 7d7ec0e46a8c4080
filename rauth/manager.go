// Package rauth is the entry point of the session manager. A Manager wires storage, the
// session store, the CSRF guard, the backend client, the sign in flow and the refresh
// scheduler together from one config.Config.
package rauth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jrsteele09/go-auth-session/apiclient"
	"github.com/jrsteele09/go-auth-session/claims"
	"github.com/jrsteele09/go-auth-session/csrf"
	"github.com/jrsteele09/go-auth-session/environment"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/oauthflow"
	"github.com/jrsteele09/go-auth-session/oauthmodel"
	"github.com/jrsteele09/go-auth-session/refresh"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

type Manager struct {
	cfg        config.Config
	env        environment.Environment
	closers    []io.Closer
	metrics    *metrics.Metrics
	reader     *claims.Reader
	store      *sessions.Store
	guard      *csrf.Guard
	api        *apiclient.Client
	flow       *oauthflow.Controller
	scheduler  *refresh.Scheduler
	httpClient *http.Client
	logger     zerolog.Logger
}

type options struct {
	env        environment.Environment
	navigator  environment.Navigator
	registerer prometheus.Registerer
	httpClient *http.Client
	logger     *zerolog.Logger
	nowFunc    func() time.Time
	onRefresh  func(*oauthmodel.RefreshResponse)
	onError    func(error)
}

type Option func(*options)

// WithEnvironment supplies the host environment instead of opening drivers from config.
func WithEnvironment(env environment.Environment) Option {
	return func(o *options) {
		o.env = env
	}
}

// WithNavigator sets how Login sends the user to the authorize page. The default opens
// the system browser.
func WithNavigator(n environment.Navigator) Option {
	return func(o *options) {
		o.navigator = n
	}
}

// WithRegisterer registers the manager's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(o *options) {
		o.nowFunc = now
	}
}

// WithRefreshCallbacks registers callbacks for renewals done by the scheduler or RefreshNow.
func WithRefreshCallbacks(onSuccess func(*oauthmodel.RefreshResponse), onError func(error)) Option {
	return func(o *options) {
		o.onRefresh = onSuccess
		o.onError = onError
	}
}

func New(cfg config.Config, opts ...Option) (*Manager, error) {
	o := options{
		navigator: environment.BrowserNavigator{},
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{cfg: cfg, httpClient: o.httpClient, logger: log.Logger}
	if o.logger != nil {
		m.logger = *o.logger
	}

	m.env = o.env
	if m.env == nil {
		env, closers, err := OpenEnvironment(cfg, o.navigator)
		if err != nil {
			return nil, errors.Wrap(err, "rauth.New")
		}
		m.env = env
		m.closers = closers
	}

	backend, err := storage.ParseBackend(cfg.GetStorageBackend())
	if err != nil {
		_ = closeAll(m.closers)
		return nil, errors.Wrap(err, "rauth.New")
	}

	m.metrics = metrics.New(o.registerer)
	observer := storage.WithErrorObserver(func(b storage.Backend, op string, _ error) {
		m.metrics.StorageError(string(b), op)
	})
	adapterLogger := storage.WithLogger(m.logger)

	m.reader = claims.NewReader(claims.WithNowFunc(o.nowFunc))
	m.store = sessions.NewStore(
		storage.NewAdapter(m.env, backend, cfg, observer, adapterLogger),
		sessions.WithNowFunc(o.nowFunc),
		sessions.WithLogger(m.logger),
	)
	m.guard = csrf.NewGuard(
		storage.NewAdapter(m.env, storage.BackendPerTab, cfg, observer, adapterLogger),
		csrf.WithLogger(m.logger),
	)

	apiOpts := []apiclient.Option{apiclient.WithLogger(m.logger)}
	if o.httpClient != nil {
		apiOpts = append(apiOpts, apiclient.WithHTTPClient(o.httpClient))
	}
	m.api = apiclient.New(cfg, m.store, apiOpts...)

	m.flow = oauthflow.New(m.env, m.guard, m.api, m.store,
		oauthflow.WithClaimsReader(m.reader),
		oauthflow.WithMetrics(m.metrics),
		oauthflow.WithLogger(m.logger),
		oauthflow.WithNowFunc(o.nowFunc),
	)

	schedOpts := []refresh.Option{
		refresh.WithMetrics(m.metrics),
		refresh.WithLogger(m.logger),
		refresh.WithNowFunc(o.nowFunc),
	}
	if o.onRefresh != nil {
		schedOpts = append(schedOpts, refresh.WithOnSuccess(o.onRefresh))
	}
	if o.onError != nil {
		schedOpts = append(schedOpts, refresh.WithOnError(o.onError))
	}
	m.scheduler = refresh.New(cfg, m.store, m.api, m.reader, schedOpts...)

	m.logger.Debug().
		Str("storage_backend", string(backend)).
		Bool("client", m.env.IsClient()).
		Msg("session manager ready")
	return m, nil
}

// IsAuthenticated reports whether a live session is stored.
func (m *Manager) IsAuthenticated() bool {
	return m.store.IsAuthenticated()
}

// CurrentUser returns the signed in user, if any.
func (m *Manager) CurrentUser() (*users.User, bool) {
	return m.store.CurrentUser()
}

// Session returns the stored session and user, if live.
func (m *Manager) Session() (*sessions.State, bool) {
	return m.store.Load()
}

// State returns the sign in flow state.
func (m *Manager) State() oauthflow.State {
	return m.flow.State()
}

// Login starts a sign in with provider and returns the authorize URL it navigated to.
func (m *Manager) Login(ctx context.Context, provider string) (string, error) {
	return m.flow.Initiate(ctx, provider)
}

// HandleCallback completes a sign in from the redirect-back query parameters.
func (m *Manager) HandleCallback(ctx context.Context, query url.Values) (*sessions.AuthResult, error) {
	return m.flow.CompleteFromCallback(ctx, query)
}

// Logout ends the session on the backend when it can and always clears local state. A
// backend failure is logged, not returned.
func (m *Manager) Logout(ctx context.Context) error {
	if sessionID, ok := m.store.SessionID(); ok {
		if err := m.api.Logout(ctx, sessionID); err != nil {
			m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("backend logout failed, clearing local session anyway")
		}
	}
	m.store.Clear()
	m.flow.Reset()
	m.logger.Info().Msg("signed out")
	return nil
}

// RefreshNow renews the token pair immediately.
func (m *Manager) RefreshNow(ctx context.Context) (*oauthmodel.RefreshResponse, error) {
	return m.scheduler.Refresh(ctx)
}

// FetchUser reloads the profile from the backend and stores it.
func (m *Manager) FetchUser(ctx context.Context) (*users.User, error) {
	if !m.store.IsAuthenticated() {
		return nil, errors.Wrap(sessions.ErrNoSession, "Manager.FetchUser")
	}
	u, err := m.api.Me(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.FetchUser")
	}
	if err := m.store.UpdateUser(*u); err != nil {
		return nil, errors.Wrap(err, "Manager.FetchUser")
	}
	return u, nil
}

// TokenSource returns an oauth2.TokenSource over the stored session.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return m.scheduler.TokenSource(ctx)
}

// HTTPClient returns a client that signs every request with the current bearer token. The
// store is read on every request, so a logout or a rotated token takes effect at once and a
// token inside the expiry buffer is renewed before it is sent.
func (m *Manager) HTTPClient(ctx context.Context) *http.Client {
	client := &http.Client{}
	if m.httpClient != nil {
		*client = *m.httpClient
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = &oauth2.Transport{Source: m.TokenSource(ctx), Base: base}
	return client
}

// API exposes the backend client for endpoints the manager does not wrap.
func (m *Manager) API() *apiclient.Client {
	return m.api
}

// Start begins background token renewal when auto refresh is enabled.
func (m *Manager) Start(ctx context.Context) {
	m.scheduler.Start(ctx)
}

// Close stops the scheduler and releases the storage drivers the manager opened.
func (m *Manager) Close() error {
	m.scheduler.Stop()
	err := closeAll(m.closers)
	m.closers = nil
	return err
}
