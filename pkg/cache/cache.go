// Package cache stores optimized images so unchanged sources skip the external optimizers.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"
)

var imageBucket = []byte("images")

// Entry is a single optimized file
type Entry struct {
	Strategy string
	Size     int
	Data     []byte
}

// Store is a bbolt-backed image cache
type Store struct {
	db *bolt.DB
}

// Key derives the cache key for data processed by the named strategy
func Key(strategy string, data []byte) []byte {
	hasher := sha256.New()
	hasher.Write([]byte(strategy))
	hasher.Write([]byte{0})
	hasher.Write(data)
	return hasher.Sum(nil)
}

// Open opens (or creates) the cache database at dbPath
func Open(dbPath string) (*Store, error) {
	err := os.MkdirAll(filepath.Dir(dbPath), 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create the directory for %s", dbPath)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open cache %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(imageBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize cache")
	}

	return &Store{db: db}, nil
}

// Get returns the entry stored under key or nil if there is none
func (s *Store) Get(key []byte) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(imageBucket).Get(key)
		if raw == nil {
			return nil
		}

		entry = new(Entry)
		return gob.NewDecoder(bytes.NewReader(raw)).Decode(entry)
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to read cache entry")
	}

	return entry, nil
}

// Put stores entry under key
func (s *Store) Put(key []byte, entry *Entry) error {
	buf := bytes.Buffer{}
	err := gob.NewEncoder(&buf).Encode(entry)
	if err != nil {
		return eris.Wrap(err, "failed to encode cache entry")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(imageBucket).Put(key, buf.Bytes())
	})
	return eris.Wrap(err, "failed to write cache entry")
}

// Len returns the number of cached entries
func (s *Store) Len() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(imageBucket).Stats().KeyN
		return nil
	})
	return count, err
}

// Clear removes every entry
func (s *Store) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(imageBucket)
		if err != nil && !eris.Is(err, bolt.ErrBucketNotFound) {
			return err
		}

		_, err = tx.CreateBucket(imageBucket)
		return err
	})
	return eris.Wrap(err, "failed to clear cache")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Handle opens the store at Path on first use and closes it again once the last user released it.
// bbolt holds an exclusive lock while the database is open, so other sitepipe processes can only use
// the cache while this one isn't.
type Handle struct {
	Path string

	lock  sync.Mutex
	store *Store
	users int
}

// NewHandle returns a handle for the cache at dbPath without opening it
func NewHandle(dbPath string) *Handle {
	return &Handle{Path: dbPath}
}

// Acquire returns the open store. Every successful call must be paired with Release().
func (h *Handle) Acquire() (*Store, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.store == nil {
		store, err := Open(h.Path)
		if err != nil {
			return nil, err
		}
		h.store = store
	}

	h.users++
	return h.store, nil
}

// Release closes the store if nobody else is using it
func (h *Handle) Release() error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.users == 0 {
		return eris.New("cache released more often than acquired")
	}

	h.users--
	if h.users > 0 {
		return nil
	}

	store := h.store
	h.store = nil
	return store.Close()
}

// Use runs fn with the open store
func (h *Handle) Use(fn func(*Store) error) (err error) {
	store, err := h.Acquire()
	if err != nil {
		return err
	}
	defer func() {
		closeErr := h.Release()
		if err == nil {
			err = closeErr
		}
	}()

	return fn(store)
}

// IsOpen reports whether the database is currently held open
func (h *Handle) IsOpen() bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.store != nil
}
