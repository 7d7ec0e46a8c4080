// Package claims reads the payload of compact (three segment) tokens without verifying
// their signature. The result is only fit for display and expiry scheduling: anything that
// grants or denies access must rely on the backend's verification.
package claims

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryBuffer is how long before its exp claim a token is already treated as expired, so
// renewal happens before a request can race the server side expiry.
const ExpiryBuffer = 60 * time.Second

// UnverifiedClaims is the decoded payload of a token whose signature was not checked.
type UnverifiedClaims struct {
	values map[string]any
}

// Subject returns the sub claim.
func (c *UnverifiedClaims) Subject() (string, bool) {
	return c.String("sub")
}

// ExpiresAt returns the exp claim as a time.
func (c *UnverifiedClaims) ExpiresAt() (time.Time, bool) {
	return c.numericDate("exp")
}

// IssuedAt returns the iat claim as a time.
func (c *UnverifiedClaims) IssuedAt() (time.Time, bool) {
	return c.numericDate("iat")
}

// Get returns the raw value of a named claim.
func (c *UnverifiedClaims) Get(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[name]
	return v, ok
}

// String returns a named claim when it is a non-empty string.
func (c *UnverifiedClaims) String(name string) (string, bool) {
	v, ok := c.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Bool returns a named claim when it is a boolean.
func (c *UnverifiedClaims) Bool(name string) (bool, bool) {
	v, ok := c.Get(name)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Map returns a copy of all claims.
func (c *UnverifiedClaims) Map() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

func (c *UnverifiedClaims) numericDate(name string) (time.Time, bool) {
	v, ok := c.Get(name)
	if !ok {
		return time.Time{}, false
	}
	var secs float64
	switch n := v.(type) {
	case float64:
		secs = n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	default:
		return time.Time{}, false
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}

// Reader decodes tokens against an injectable clock.
type Reader struct {
	nowFunc func() time.Time
	parser  *jwt.Parser
}

type ReaderOption func(*Reader)

func WithNowFunc(now func() time.Time) ReaderOption {
	return func(r *Reader) {
		r.nowFunc = now
	}
}

func NewReader(options ...ReaderOption) *Reader {
	r := &Reader{
		parser: jwt.NewParser(jwt.WithoutClaimsValidation(), jwt.WithPaddingAllowed()),
	}
	for _, opt := range options {
		opt(r)
	}
	if r.nowFunc == nil {
		r.nowFunc = time.Now
	}
	return r
}

// Decode returns the claims of token, or false when token is not three dot separated
// segments or its payload is not a base64url encoded JSON object.
func (r *Reader) Decode(token string) (claims *UnverifiedClaims, ok bool) {
	defer func() {
		if recover() != nil {
			claims, ok = nil, false
		}
	}()

	if strings.Count(token, ".") != 2 {
		return nil, false
	}
	payload := strings.Split(token, ".")[1]
	if payload == "" {
		return nil, false
	}
	decoded, err := r.parser.DecodeSegment(payload)
	if err != nil {
		return nil, false
	}
	values := map[string]any{}
	if err := json.Unmarshal(decoded, &values); err != nil || values == nil {
		return nil, false
	}
	return &UnverifiedClaims{values: values}, true
}

// IsExpired reports whether token should no longer be sent: its claims are unreadable, it
// has no exp claim, or exp falls within ExpiryBuffer of now.
func (r *Reader) IsExpired(token string) bool {
	exp, ok := r.ExpirationTime(token)
	if !ok {
		return true
	}
	return exp.Unix() <= r.nowFunc().Add(ExpiryBuffer).Unix()
}

// ExpirationTime returns the exp claim of token.
func (r *Reader) ExpirationTime(token string) (time.Time, bool) {
	c, ok := r.Decode(token)
	if !ok {
		return time.Time{}, false
	}
	return c.ExpiresAt()
}

// ExpirationMillis returns the exp claim of token in epoch milliseconds.
func (r *Reader) ExpirationMillis(token string) (int64, bool) {
	exp, ok := r.ExpirationTime(token)
	if !ok {
		return 0, false
	}
	return exp.UnixMilli(), true
}

// Subject returns the sub claim of token.
func (r *Reader) Subject(token string) (string, bool) {
	c, ok := r.Decode(token)
	if !ok {
		return "", false
	}
	return c.Subject()
}

// Claim returns any named claim of token.
func (r *Reader) Claim(token, name string) (any, bool) {
	c, ok := r.Decode(token)
	if !ok {
		return nil, false
	}
	return c.Get(name)
}
