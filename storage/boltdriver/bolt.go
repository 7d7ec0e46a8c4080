// Package boltdriver provides a BBolt-backed durable storage driver.
package boltdriver

import (
	"fmt"

	"github.com/jrsteele09/go-auth-session/storage"
	"go.etcd.io/bbolt"
)

const defaultBucket = "rauth"

var _ storage.Driver = (*Driver)(nil)

// Driver implements storage.Driver over a single bucket of a BBolt database.
type Driver struct {
	db     *bbolt.DB
	bucket []byte
}

// New returns a Driver using bucket inside db. An empty bucket name uses the default.
func New(db *bbolt.DB, bucket string) (*Driver, error) {
	if bucket == "" {
		bucket = defaultBucket
	}
	d := &Driver{db: db, bucket: []byte(bucket)}
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(d.bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket %s: %w", bucket, err)
	}
	return d, nil
}

// NewFromFile opens a BBolt database at path and returns a Driver for it.
func NewFromFile(path string, options *bbolt.Options) (*Driver, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	d, err := New(db, "")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying BBolt database.
func (d *Driver) Close() error {
	return d.db.Close()
}

func (d *Driver) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(d.bucket)
		if b == nil {
			return fmt.Errorf("bucket %s: %w", d.bucket, storage.ErrUnavailable)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		value, found = string(data), true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

func (d *Driver) Set(key, value string, _ *storage.CookieOptions) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(d.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (d *Driver) Delete(key string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(d.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (d *Driver) Keys() ([]string, error) {
	var keys []string
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(d.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
