package config

import "time"

const (
	keyAutoRefresh     = "auto_refresh"
	keyRefreshInterval = "refresh_interval"
	keyRefreshRetries  = "refresh_retries"

	minRefreshInterval = 10 * time.Millisecond
)

type RefreshConfig interface {
	GetAutoRefresh() bool
	GetRefreshInterval() time.Duration
	GetRefreshRetries() int
}

func (c mainConfig) GetAutoRefresh() bool {
	return c.v.GetBool(keyAutoRefresh)
}

func (c mainConfig) GetRefreshInterval() time.Duration {
	d := c.v.GetDuration(keyRefreshInterval)
	if d < minRefreshInterval {
		return minRefreshInterval
	}
	return d
}

func (c mainConfig) GetRefreshRetries() int {
	n := c.v.GetInt(keyRefreshRetries)
	if n < 0 {
		return 0
	}
	return n
}
