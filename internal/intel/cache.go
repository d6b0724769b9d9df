// File: internal/intel/cache.go
// Package intel provides threat-intelligence lookups against OSV.dev with a
// local badger-backed cache.
package intel

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// CacheConfig holds configuration for the advisory cache.
type CacheConfig struct {
	// Path is the badger directory. Empty selects the default under the
	// user's home directory. Ignored when InMemory is true.
	Path string
	// InMemory disables disk persistence; used by tests.
	InMemory bool
	// TTL bounds how long a cached advisory response is served.
	TTL time.Duration
}

// DefaultCachePath resolves the default cache directory under the user's
// home.
func DefaultCachePath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".packguard", "intel-cache"), nil
}

// Cache is a badger-backed TTL cache for advisory responses.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
	log *zap.Logger
}

// OpenCache opens (or creates) the cache.
func OpenCache(cfg CacheConfig, logger *zap.Logger) (*Cache, error) {
	log := logger.Named("intel_cache")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path := cfg.Path
		if path == "" {
			var err error
			path, err = DefaultCachePath()
			if err != nil {
				return nil, err
			}
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(badgerLogger{log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open intel cache: %w", err)
	}
	return &Cache{db: db, ttl: cfg.TTL, log: log}, nil
}

// Get returns the cached value for a key, with false when absent or expired.
func (c *Cache) Get(key string) ([]byte, bool, error) {
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
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}
	return value, true, nil
}

// Set stores a value under the configured TTL.
func (c *Cache) Set(key string, value []byte) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// Purge drops every cached entry.
func (c *Cache) Purge() error {
	if err := c.db.DropAll(); err != nil {
		return fmt.Errorf("cache purge failed: %w", err)
	}
	c.log.Info("Intel cache purged")
	return nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// badgerLogger adapts zap to badger's logger interface.
type badgerLogger struct {
	log *zap.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.log.Error(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.log.Warn(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.log.Debug(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.log.Debug(fmt.Sprintf(format, args...))
}
