package config

import "strings"

const (
	keyAPIBaseURL  = "api_base_url"
	keyAppID       = "app_id"
	keyRedirectURI = "redirect_uri"
)

type OAuthConfig interface {
	GetAPIBaseURL() string
	GetAppID() string
	GetRedirectURI() string
}

// GetAPIBaseURL returns the backend base URL without a trailing slash.
func (c mainConfig) GetAPIBaseURL() string {
	return strings.TrimRight(c.v.GetString(keyAPIBaseURL), "/")
}

func (c mainConfig) GetAppID() string {
	return c.v.GetString(keyAppID)
}

func (c mainConfig) GetRedirectURI() string {
	return c.v.GetString(keyRedirectURI)
}
