// Package apiclient talks to the OAuth backend. It signs requests with the stored bearer
// token and turns every failure into an *Error.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/oauthmodel"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Backend routes.
const (
	RouteAuthorize = "/oauth/authorize"
	RouteCallback  = "/oauth/callback"
	RouteMe        = "/users/me"
	RouteRefresh   = "/sessions/refresh"
	RouteSessions  = "/sessions/"

	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 64 << 10
)

// TokenProvider supplies the bearer token for authenticated requests.
type TokenProvider interface {
	AccessToken() (string, bool)
}

type Client struct {
	baseURL     string
	appID       string
	redirectURI string
	httpClient  *http.Client
	tokens      TokenProvider
	logger      zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client. tokens may be nil, in which case authenticated requests go out
// without an Authorization header and the backend decides.
func New(cfg config.OAuthConfig, tokens TokenProvider, options ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.GetAPIBaseURL(), "/"),
		appID:       cfg.GetAppID(),
		redirectURI: cfg.GetRedirectURI(),
		httpClient:  http.DefaultClient,
		tokens:      tokens,
		logger:      log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends a request to endpoint (relative to the base URL) and decodes a 2xx JSON
// response into out, when out is non-nil and the body is not empty.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, out any, requiresAuth bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Message: "encoding request body: " + err.Error(), Code: CodeNetworkError, cause: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return &Error{Message: err.Error(), Code: CodeNetworkError, cause: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requiresAuth && c.tokens != nil {
		if token, ok := c.tokens.AccessToken(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("endpoint", endpoint).Msg("request failed")
		return &Error{Message: err.Error(), Code: CodeNetworkError, HTTPStatus: 0, cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := normalizeError(resp)
		c.logger.Debug().
			Str("method", method).
			Str("endpoint", endpoint).
			Int("status", apiErr.HTTPStatus).
			Str("code", apiErr.Code).
			Msg("backend returned error")
		return apiErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Message: "reading response: " + err.Error(), Code: CodeNetworkError, HTTPStatus: resp.StatusCode, cause: err}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Message: "decoding response: " + err.Error(), Code: CodeNetworkError, HTTPStatus: resp.StatusCode, cause: err}
	}
	return nil
}

func normalizeError(resp *http.Response) *Error {
	apiErr := &Error{
		Message:    http.StatusText(resp.StatusCode),
		Code:       CodeNetworkError,
		HTTPStatus: resp.StatusCode,
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apiErr
	}
	var body oauthmodel.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return apiErr
	}
	if text := body.Text(); text != "" {
		apiErr.Message = text
	}
	if body.Code != "" {
		apiErr.Code = body.Code
	} else if body.Error != "" {
		apiErr.Code = body.Error
	}
	if len(body.Details) > 0 && string(body.Details) != "null" {
		apiErr.Details = body.Details
	}
	return apiErr
}

// Request is the typed form of Client.Do.
func Request[T any](ctx context.Context, c *Client, method, endpoint string, body any, requiresAuth bool) (T, error) {
	var out T
	if err := c.Do(ctx, method, endpoint, body, &out, requiresAuth); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// AuthorizeURL builds the backend URL the browser is sent to for provider.
func (c *Client) AuthorizeURL(provider, state string) (string, error) {
	params := oauthmodel.AuthorizeParameters{
		Provider:    provider,
		AppID:       c.appID,
		RedirectURI: c.redirectURI,
		State:       state,
	}
	if err := params.Validate(); err != nil {
		return "", err
	}
	u, err := url.Parse(c.baseURL + RouteAuthorize)
	if err != nil {
		return "", err
	}
	u.RawQuery = params.Values().Encode()
	return u.String(), nil
}

// ExchangeCode trades an authorization code for a session. The call is unauthenticated.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*sessions.AuthResult, error) {
	result, err := Request[sessions.AuthResult](ctx, c, http.MethodPost, RouteCallback, oauthmodel.CodeExchangeRequest{
		Code:        code,
		RedirectURI: c.redirectURI,
		AppID:       c.appID,
	}, false)
	if err != nil {
		return nil, err
	}
	result.Normalize()
	return &result, nil
}

// SubmitToken asks the backend for the session belonging to a directly issued token.
func (c *Client) SubmitToken(ctx context.Context, token string) (*sessions.AuthResult, error) {
	result, err := Request[sessions.AuthResult](ctx, c, http.MethodPost, RouteCallback, oauthmodel.TokenSubmitRequest{
		Token:       token,
		RedirectURI: c.redirectURI,
	}, false)
	if err != nil {
		return nil, err
	}
	result.Normalize()
	return &result, nil
}

// Me fetches the signed in user.
func (c *Client) Me(ctx context.Context) (*users.User, error) {
	u, err := Request[users.User](ctx, c, http.MethodGet, RouteMe, nil, true)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Refresh exchanges refreshToken for a new token pair. The old refresh token is unusable
// afterwards.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error) {
	r, err := Request[oauthmodel.RefreshResponse](ctx, c, http.MethodPost, RouteRefresh, oauthmodel.RefreshRequest{
		RefreshToken: refreshToken,
	}, false)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Logout ends sessionID on the backend.
func (c *Client) Logout(ctx context.Context, sessionID string) error {
	return c.Do(ctx, http.MethodDelete, RouteSessions+url.PathEscape(sessionID), nil, nil, true)
}
