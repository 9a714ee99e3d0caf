// Package store persists pattern memory across daemon restarts.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/e7canasta/reelcore/modules/patternmemory"
)

const (
	patternBucket = "pattern"

	// recordVersion is bumped when the stored layout changes incompatibly.
	recordVersion = 1
)

// ErrNotFound is returned when a session has no stored pattern state.
var ErrNotFound = errors.New("store: not found")

// ErrVersion is returned for records written by an incompatible version.
var ErrVersion = errors.New("store: unsupported record version")

// record is the stored value for one session key.
type record struct {
	Version int                 `msgpack:"v"`
	SavedAt time.Time           `msgpack:"saved_at"`
	State   patternmemory.State `msgpack:"state"`
}

// Store is a BoltDB-backed pattern state store.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SavePattern stores st under key, replacing any previous value.
func (s *Store) SavePattern(ctx context.Context, key string, st patternmemory.State) error {
	if err := s.check(ctx, key); err != nil {
		return err
	}

	payload, err := msgpack.Marshal(record{Version: recordVersion, SavedAt: s.now().UTC(), State: st})
	if err != nil {
		return fmt.Errorf("marshal pattern state: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(patternBucket))
		if bucket == nil {
			return fmt.Errorf("pattern bucket is missing")
		}
		return bucket.Put([]byte(key), payload)
	})
}

// LoadPattern returns the state stored under key and when it was saved.
func (s *Store) LoadPattern(ctx context.Context, key string) (patternmemory.State, time.Time, error) {
	if err := s.check(ctx, key); err != nil {
		return patternmemory.State{}, time.Time{}, err
	}

	var rec record
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(patternBucket))
		if bucket == nil {
			return fmt.Errorf("pattern bucket is missing")
		}
		payload := bucket.Get([]byte(key))
		if payload == nil {
			return ErrNotFound
		}
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("unmarshal pattern state: %w", err)
		}
		return nil
	})
	if err != nil {
		return patternmemory.State{}, time.Time{}, err
	}
	if rec.Version != recordVersion {
		return patternmemory.State{}, time.Time{}, fmt.Errorf("%w: %d", ErrVersion, rec.Version)
	}

	return rec.State, rec.SavedAt, nil
}

// DeletePattern removes the state stored under key. Missing keys are not an error.
func (s *Store) DeletePattern(ctx context.Context, key string) error {
	if err := s.check(ctx, key); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(patternBucket))
		if bucket == nil {
			return fmt.Errorf("pattern bucket is missing")
		}
		return bucket.Delete([]byte(key))
	})
}

// Sessions lists the keys with stored state.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(patternBucket))
		if bucket == nil {
			return fmt.Errorf("pattern bucket is missing")
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *Store) check(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("session key is required")
	}
	return nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(patternBucket)); err != nil {
			return fmt.Errorf("create pattern bucket: %w", err)
		}
		return nil
	})
}
