package rauth

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jrsteele09/go-auth-session/environment"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/storage/boltdriver"
	"github.com/jrsteele09/go-auth-session/storage/cookiedriver"
	"github.com/jrsteele09/go-auth-session/storage/memorydriver"
	"github.com/jrsteele09/go-auth-session/storage/redisdriver"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// Durable driver names accepted by the durable_driver setting.
const (
	DurableBolt   = "bolt"
	DurableRedis  = "redis"
	DurableMemory = "memory"

	boltOpenTimeout = time.Second
)

// OpenEnvironment builds the client environment described by cfg: a durable driver (bolt
// file under the data folder, redis, or memory), an in-process per-tab store and a cookie
// jar. The returned closers release the durable driver.
func OpenEnvironment(cfg config.Config, navigator environment.Navigator) (*environment.ClientEnvironment, []io.Closer, error) {
	var closers []io.Closer

	durable, closer, err := openDurable(cfg)
	if err != nil {
		return nil, nil, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	cookies, err := cookiedriver.New(nil, cfg.GetCookieURL())
	if err != nil {
		_ = closeAll(closers)
		return nil, nil, errors.Wrap(err, "OpenEnvironment cookie driver")
	}

	env := &environment.ClientEnvironment{
		Durable:   durable,
		PerTab:    memorydriver.New(),
		Cookie:    cookies,
		Navigator: navigator,
	}
	return env, closers, nil
}

func openDurable(cfg config.Config) (storage.Driver, io.Closer, error) {
	switch cfg.GetDurableDriver() {
	case DurableBolt:
		if err := os.MkdirAll(cfg.GetDataFolder(), 0o700); err != nil {
			return nil, nil, errors.Wrap(err, "openDurable data folder")
		}
		path := filepath.Join(cfg.GetDataFolder(), cfg.GetAppName()+".db")
		d, err := boltdriver.NewFromFile(path, &bbolt.Options{Timeout: boltOpenTimeout})
		if err != nil {
			return nil, nil, errors.Wrapf(err, "openDurable bolt %s", path)
		}
		return d, d, nil
	case DurableRedis:
		d := redisdriver.New(cfg.GetRedisAddr())
		return d, d, nil
	case DurableMemory:
		return memorydriver.New(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown durable driver %q", cfg.GetDurableDriver())
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
