// Package callback runs the local listener a provider redirects back to at the end of a
// sign in. Each callback is handed to a Handler and its outcome published on Results.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPath = "/callback"

	readHeaderTimeout = 10 * time.Second
)

// Handler completes a sign in from the callback query.
type Handler interface {
	HandleCallback(ctx context.Context, query url.Values) (*sessions.AuthResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, query url.Values) (*sessions.AuthResult, error)

func (f HandlerFunc) HandleCallback(ctx context.Context, query url.Values) (*sessions.AuthResult, error) {
	return f(ctx, query)
}

// Result is the outcome of one callback.
type Result struct {
	Auth *sessions.AuthResult
	Err  error
}

type Server struct {
	env     string
	path    string
	router  chi.Router
	routes  []string
	handler Handler
	results chan Result
	logger  zerolog.Logger

	httpServer *http.Server
}

type Option func(*Server)

// WithEnv sets the environment name. Requests are logged only in DEV.
func WithEnv(env string) Option {
	return func(s *Server) {
		s.env = env
	}
}

// WithPath sets the route the provider redirects to.
func WithPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.path = path
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(handler Handler, options ...Option) *Server {
	s := &Server{
		path:    DefaultPath,
		router:  chi.NewRouter(),
		handler: handler,
		results: make(chan Result, 1),
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.initRoutes()
	s.logRoutes()
	return s
}

// PathFromRedirectURI returns the path component of redirectURI, or DefaultPath.
func PathFromRedirectURI(redirectURI string) string {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Path == "" {
		return DefaultPath
	}
	return u.Path
}

// AddrFromRedirectURI returns the host:port to listen on for redirectURI.
func AddrFromRedirectURI(redirectURI string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("callback.AddrFromRedirectURI: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("callback.AddrFromRedirectURI: %q has no host", redirectURI)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	if strings.EqualFold(u.Scheme, "https") {
		return net.JoinHostPort(u.Hostname(), "443"), nil
	}
	return net.JoinHostPort(u.Hostname(), "80"), nil
}

func (s *Server) initRoutes() {
	s.router.Use(s.RecoverMiddleware, s.LoggingMiddleware, SecurityHeadersMiddleware)

	s.registerRoute(http.MethodGet, "/", s.IndexHandler())
	s.registerRoute(http.MethodGet, s.path, s.CallbackHandler())
	s.registerRoute(http.MethodPost, s.path, s.CallbackHandler()) // form_post response mode
}

func (s *Server) registerRoute(method, pattern string, handler http.HandlerFunc) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.Method(method, pattern, handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Results delivers the outcome of each callback. The channel holds one result; further
// callbacks are served but not published until it is drained.
func (s *Server) Results() <-chan Result {
	return s.results
}

// Listen binds addr and serves in the background. It returns the bound address, which
// differs from addr when addr asks for port 0.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("callback.Listen %s: %w", addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Str("path", s.path).Msg("callback listener started")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.publish(Result{Err: fmt.Errorf("callback listener: %w", err)})
		}
	}()
	return ln.Addr(), nil
}

// Wait blocks until a callback has been handled or ctx is done.
func (s *Server) Wait(ctx context.Context) (*sessions.AuthResult, error) {
	select {
	case r := <-s.results:
		return r.Auth, r.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for callback: %w", ctx.Err())
	}
}

// Shutdown stops the listener started by Listen.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("callback.Shutdown: %w", err)
	}
	return nil
}

func (s *Server) publish(r Result) {
	select {
	case s.results <- r:
	default:
		s.logger.Warn().Msg("callback result dropped, previous result not yet consumed")
	}
}
