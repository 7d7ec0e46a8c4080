package config

import (
	"net/http"
	"strings"
	"time"
)

const (
	keyStoragePrefix  = "storage_prefix"
	keyStorageBackend = "storage_backend"
	keyDurableDriver  = "durable_driver"
	keyRedisAddr      = "redis_addr"
	keyCookieURL      = "cookie_url"
	keyCookiePath     = "cookie_path"
	keyCookieDomain   = "cookie_domain"
	keyCookieSecure   = "cookie_secure"
	keyCookieSameSite = "cookie_same_site"
	keyCookieMaxAge   = "cookie_max_age"
)

type StorageConfig interface {
	GetStoragePrefix() string
	GetStorageBackend() string
	GetDurableDriver() string
	GetRedisAddr() string
	GetCookieURL() string
	GetCookieDefaults() CookieDefaults
}

// CookieDefaults are applied to cookie writes that don't carry their own options.
type CookieDefaults struct {
	Path     string
	Domain   string
	MaxAge   time.Duration
	Secure   bool
	SameSite http.SameSite
}

func (c mainConfig) GetStoragePrefix() string {
	return c.v.GetString(keyStoragePrefix)
}

func (c mainConfig) GetStorageBackend() string {
	return c.v.GetString(keyStorageBackend)
}

func (c mainConfig) GetDurableDriver() string {
	return c.v.GetString(keyDurableDriver)
}

func (c mainConfig) GetRedisAddr() string {
	return c.v.GetString(keyRedisAddr)
}

func (c mainConfig) GetCookieURL() string {
	return c.v.GetString(keyCookieURL)
}

func (c mainConfig) GetCookieDefaults() CookieDefaults {
	return CookieDefaults{
		Path:     c.v.GetString(keyCookiePath),
		Domain:   c.v.GetString(keyCookieDomain),
		MaxAge:   c.v.GetDuration(keyCookieMaxAge),
		Secure:   c.v.GetBool(keyCookieSecure),
		SameSite: ParseSameSite(c.v.GetString(keyCookieSameSite)),
	}
}

// ParseSameSite maps "strict", "lax" and "none" to http.SameSite. Anything else is the
// browser default.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
