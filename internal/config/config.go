package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "RAUTH"

type Config interface {
	EnvConfig
	StorageConfig
	OAuthConfig
	RefreshConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetDataFolder() string
	GetLogLevel() string
}

type mainConfig struct {
	v *viper.Viper
}

var _ Config = mainConfig{}

// New returns a Config read from RAUTH_* environment variables, falling back to defaults.
func New() Config {
	return mainConfig{v: newViper()}
}

// Load reads the config file at path (any format viper understands) on top of the
// environment and defaults. An empty path behaves like New.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config.Load %s: %w", path, err)
		}
	}
	return mainConfig{v: v}, nil
}

// FromMap builds a Config from explicit values. Keys use the same names as the config file.
func FromMap(values map[string]any) Config {
	v := newViper()
	for k, val := range values {
		v.Set(k, val)
	}
	return mainConfig{v: v}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyAppName, "rauth")
	v.SetDefault(keyEnv, "DEV")
	v.SetDefault(keyDataFolder, "./data")
	v.SetDefault(keyLogLevel, "info")

	v.SetDefault(keyStoragePrefix, "rauth_")
	v.SetDefault(keyStorageBackend, "durable")
	v.SetDefault(keyDurableDriver, "bolt")
	v.SetDefault(keyRedisAddr, "localhost:6379")
	v.SetDefault(keyCookieURL, "http://localhost")
	v.SetDefault(keyCookiePath, "/")
	v.SetDefault(keyCookieDomain, "")
	v.SetDefault(keyCookieSecure, false)
	v.SetDefault(keyCookieSameSite, "lax")
	v.SetDefault(keyCookieMaxAge, 7*24*time.Hour)

	v.SetDefault(keyAPIBaseURL, "http://localhost:8080")
	v.SetDefault(keyAppID, "rauth-client")
	v.SetDefault(keyRedirectURI, "http://localhost:8765/callback")

	v.SetDefault(keyAutoRefresh, true)
	v.SetDefault(keyRefreshInterval, 5*time.Minute)
	v.SetDefault(keyRefreshRetries, 0)
}
