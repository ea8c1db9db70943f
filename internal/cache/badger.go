package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for the embedded Badger cache.
type BadgerConfig struct {
	Dir      string // Directory for data storage
	InMemory bool   // Keep everything in memory, Dir is ignored
}

// BadgerCache implements Store on an embedded BadgerDB, for single-node
// deployments that want views to survive a restart without running Redis.
type BadgerCache struct {
	db *badger.DB
}

// NewBadgerCache opens (or creates) a Badger database.
func NewBadgerCache(cfg BadgerConfig) (*BadgerCache, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("badger cache: Dir is required")
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(nil) // Disable badger's verbose logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

// Get retrieves a value by key.
func (c *BadgerCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return value, nil
}

// Set stores a value with the given TTL.
func (c *BadgerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Delete removes a key.
func (c *BadgerCache) Delete(ctx context.Context, key string) (bool, error) {
	var existed bool
	err := c.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return false, unavailable("delete", err)
	}
	return existed, nil
}

// Exists checks if a live key exists.
func (c *BadgerCache) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Keys scans the literal prefix of pattern and filters with the glob.
func (c *BadgerCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	prefix := pattern
	if i := strings.IndexByte(pattern, '*'); i >= 0 {
		prefix = pattern[:i]
	}

	keys := make([]string, 0)
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			if item.IsDeletedOrExpired() {
				continue
			}
			k := string(item.KeyCopy(nil))
			if matchGlob(pattern, k) {
				keys = append(keys, k)
			}
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("keys", err)
	}
	return keys, nil
}

// Expire rewrites the entry with a new TTL.
func (c *BadgerCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var found bool
	err := c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		found = true
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return false, unavailable("expire", err)
	}
	return found, nil
}

// Ping reports whether the database is still open.
func (c *BadgerCache) Ping(ctx context.Context) error {
	if c.db.IsClosed() {
		return unavailable("ping", errors.New("badger db is closed"))
	}
	return nil
}

// Close closes the database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func newEntry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > NoExpiration {
		e = e.WithTTL(ttl)
	}
	return e
}
