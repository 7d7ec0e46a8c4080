package refresh

import (
	"context"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// TokenSource serves the stored bearer token to oauth2 clients, renewing it first when
// it is inside the expiry buffer.
type TokenSource struct {
	ctx       context.Context
	scheduler *Scheduler
}

var _ oauth2.TokenSource = (*TokenSource)(nil)

// TokenSource returns an oauth2.TokenSource backed by the scheduler's store. ctx bounds
// any refresh it triggers.
func (s *Scheduler) TokenSource(ctx context.Context) *TokenSource {
	return &TokenSource{ctx: ctx, scheduler: s}
}

func (ts *TokenSource) Token() (*oauth2.Token, error) {
	s := ts.scheduler
	token, ok := s.store.AccessToken()
	if !ok {
		return nil, errors.Wrap(autherrors.ErrNoSession, "TokenSource.Token")
	}
	if s.reader.IsExpired(token) {
		if _, err := s.Refresh(ts.ctx); err != nil {
			return nil, errors.Wrap(err, "TokenSource.Token")
		}
		if token, ok = s.store.AccessToken(); !ok {
			return nil, errors.Wrap(autherrors.ErrNoSession, "TokenSource.Token")
		}
	}

	tok := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
	if exp, ok := s.reader.ExpirationTime(token); ok {
		tok.Expiry = exp
	}
	if refreshToken, ok := s.store.RefreshToken(); ok {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}
