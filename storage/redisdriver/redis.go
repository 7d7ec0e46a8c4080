// Package redisdriver provides a Redis-backed durable storage driver for headless hosts
// that keep their session in a shared Redis instead of a local file.
package redisdriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/redis/go-redis/v9"
)

const (
	scanCount      = 100
	defaultTimeout = 2 * time.Second
)

var _ storage.Driver = (*Driver)(nil)
var _ storage.PrefixLister = (*Driver)(nil)

type Driver struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// New connects to the Redis server at addr.
func New(addr string) *Driver {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}))
}

// NewWithClient creates a Driver with a pre-configured client.
// This is useful for testing with miniredis.
func NewWithClient(client redis.UniversalClient) *Driver {
	return &Driver{client: client, timeout: defaultTimeout}
}

// Close closes the underlying client.
func (d *Driver) Close() error {
	return d.client.Close()
}

func (d *Driver) Get(key string) (string, bool, error) {
	ctx, cancel := d.ctx()
	defer cancel()

	value, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (d *Driver) Set(key, value string, opts *storage.CookieOptions) error {
	ctx, cancel := d.ctx()
	defer cancel()

	var ttl time.Duration
	if opts != nil && opts.MaxAge > 0 {
		ttl = opts.MaxAge
	}
	if err := d.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (d *Driver) Delete(key string) error {
	ctx, cancel := d.ctx()
	defer cancel()

	if err := d.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (d *Driver) Keys() ([]string, error) {
	return d.scan("*")
}

// KeysWithPrefix lists only keys starting with prefix, so clearing one application's records
// does not walk a shared keyspace.
func (d *Driver) KeysWithPrefix(prefix string) ([]string, error) {
	return d.scan(escapePattern(prefix) + "*")
}

func (d *Driver) scan(match string) ([]string, error) {
	ctx, cancel := d.ctx()
	defer cancel()

	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := d.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// escapePattern quotes the glob metacharacters redis MATCH understands.
func escapePattern(s string) string {
	return globEscaper.Replace(s)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func (d *Driver) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.timeout)
}
