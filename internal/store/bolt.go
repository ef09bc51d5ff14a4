package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// boltFilePerm is the permission mode for the database file.
	boltFilePerm = fs.FileMode(0o600)

	// boltOpenTimeout is the maximum time to wait for the file lock.
	boltOpenTimeout = 5 * time.Second
)

// DB wraps a bbolt database shared by several Bolt stores.
type DB struct {
	db *bolt.DB
}

// Open opens (creating if needed) the bbolt database at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Bolt is a persistent Store keeping JSON-encoded values in a single
// bbolt bucket.
type Bolt[V any] struct {
	db     *bolt.DB
	bucket []byte
	expiry ExpiryFunc[V]
}

// NewBolt creates a Store over the named bucket, creating the bucket
// if it does not exist.
func NewBolt[V any](d *DB, bucket string, expiry ExpiryFunc[V]) (*Bolt[V], error) {
	b := &Bolt[V]{
		db:     d.db,
		bucket: []byte(bucket),
		expiry: expiry,
	}

	err := d.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(b.bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket %s: %w", bucket, err)
	}

	return b, nil
}

func (b *Bolt[V]) Get(key string) (V, bool) {
	var (
		v  V
		ok bool
	)

	_ = b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(b.bucket).Get([]byte(key))
		if raw == nil {
			return nil
		}

		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}

		ok = true

		return nil
	})

	return v, ok
}

func (b *Bolt[V]) Put(key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("writing value: %w", err)
	}

	return nil
}

// Take atomically reads and deletes the value in one write transaction.
func (b *Bolt[V]) Take(key string) (V, bool) {
	var (
		v  V
		ok bool
	)

	_ = b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.bucket)

		raw := bk.Get([]byte(key))
		if raw == nil {
			return nil
		}

		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}

		if err := bk.Delete([]byte(key)); err != nil {
			return err
		}

		ok = true

		return nil
	})

	return v, ok
}

func (b *Bolt[V]) Delete(key string) {
	_ = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	})
}

// Sweep removes expired values and returns how many were removed.
func (b *Bolt[V]) Sweep(now time.Time) int {
	removed := 0

	_ = b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		c := bk.Cursor()

		var stale [][]byte

		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var v V
			if err := json.Unmarshal(raw, &v); err != nil {
				stale = append(stale, append([]byte(nil), k...))
				continue
			}

			if expired(b.expiry, v, now) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}

		for _, k := range stale {
			if err := bk.Delete(k); err != nil {
				return err
			}

			removed++
		}

		return nil
	})

	return removed
}
