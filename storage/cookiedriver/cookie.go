// Package cookiedriver stores values as cookies in an http.CookieJar scoped to one URL.
// Sharing the jar with the http.Client that talks to the backend lets the same cookies
// travel with API requests.
package cookiedriver

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"github.com/jrsteele09/go-auth-session/storage"
)

var _ storage.Driver = (*Driver)(nil)

type Driver struct {
	jar  http.CookieJar
	url  *url.URL
	mu   sync.Mutex
	opts map[string]storage.CookieOptions // attributes each key was written with
}

// New returns a Driver writing into jar for rawURL. A nil jar gets a fresh in-memory one.
func New(jar http.CookieJar, rawURL string) (*Driver, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cookie url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("cookie url %q: scheme must be http or https", rawURL)
	}
	if jar == nil {
		if jar, err = cookiejar.New(nil); err != nil {
			return nil, err
		}
	}
	return &Driver{jar: jar, url: u, opts: make(map[string]storage.CookieOptions)}, nil
}

// Jar exposes the cookie jar so it can be attached to an http.Client.
func (d *Driver) Jar() http.CookieJar {
	return d.jar
}

func (d *Driver) Get(key string) (string, bool, error) {
	name := url.QueryEscape(key)
	for _, c := range d.jar.Cookies(d.url) {
		if c.Name != name {
			continue
		}
		value, err := url.QueryUnescape(c.Value)
		if err != nil {
			return "", false, fmt.Errorf("%w: cookie %s: %v", storage.ErrSerialization, key, err)
		}
		return value, true, nil
	}
	return "", false, nil
}

func (d *Driver) Set(key, value string, opts *storage.CookieOptions) error {
	var o storage.CookieOptions
	if opts != nil {
		o = *opts
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.Secure && d.url.Scheme != "https" {
		return fmt.Errorf("%w: secure cookie %s on %s", storage.ErrUnavailable, key, d.url.Scheme)
	}

	c := d.cookie(key, o)
	c.Value = url.QueryEscape(value)
	if o.MaxAge > 0 {
		c.MaxAge = int(o.MaxAge.Seconds())
	}
	d.jar.SetCookies(d.url, []*http.Cookie{c})

	d.mu.Lock()
	d.opts[key] = o
	d.mu.Unlock()
	return nil
}

func (d *Driver) Delete(key string) error {
	d.mu.Lock()
	o, ok := d.opts[key]
	delete(d.opts, key)
	d.mu.Unlock()
	if !ok {
		o = storage.CookieOptions{Path: "/"}
	}

	c := d.cookie(key, o)
	c.MaxAge = -1
	d.jar.SetCookies(d.url, []*http.Cookie{c})
	return nil
}

func (d *Driver) Keys() ([]string, error) {
	cookies := d.jar.Cookies(d.url)
	keys := make([]string, 0, len(cookies))
	for _, c := range cookies {
		name, err := url.QueryUnescape(c.Name)
		if err != nil {
			continue
		}
		keys = append(keys, name)
	}
	return keys, nil
}

func (d *Driver) cookie(key string, o storage.CookieOptions) *http.Cookie {
	return &http.Cookie{
		Name:     url.QueryEscape(key),
		Path:     o.Path,
		Domain:   o.Domain,
		Secure:   o.Secure,
		SameSite: o.SameSite,
	}
}
