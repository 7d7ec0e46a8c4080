// Package memorydriver is an in-process storage driver. It backs the per-tab backend: its
// contents live exactly as long as the process (the "tab") that created it.
package memorydriver

import (
	"sort"
	"sync"

	"github.com/jrsteele09/go-auth-session/storage"
)

var _ storage.Driver = (*Driver)(nil)

type Driver struct {
	mu     sync.RWMutex
	values map[string]string
	quota  int // bytes of key+value, 0 = unlimited
	used   int
}

type Option func(*Driver)

// WithQuota caps the total size of keys and values. Writes beyond it fail with
// storage.ErrQuotaExceeded.
func WithQuota(bytes int) Option {
	return func(d *Driver) {
		d.quota = bytes
	}
}

func New(options ...Option) *Driver {
	d := &Driver{values: make(map[string]string)}
	for _, opt := range options {
		opt(d)
	}
	return d
}

func (d *Driver) Get(key string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, ok := d.values[key]
	return v, ok, nil
}

func (d *Driver) Set(key, value string, _ *storage.CookieOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	used := d.used + len(key) + len(value)
	if old, ok := d.values[key]; ok {
		used -= len(key) + len(old)
	}
	if d.quota > 0 && used > d.quota {
		return storage.ErrQuotaExceeded
	}
	d.values[key] = value
	d.used = used
	return nil
}

func (d *Driver) Delete(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.values[key]; ok {
		d.used -= len(key) + len(old)
		delete(d.values, key)
	}
	return nil
}

func (d *Driver) Keys() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
