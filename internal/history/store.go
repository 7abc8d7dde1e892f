// Package history keeps a durable log of archivals and evictions.
package history

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Store records terminal job outcomes and evictions.
type Store interface {
	RecordArchival(ctx context.Context, entry ArchivalEntry) error
	RecordEviction(ctx context.Context, entry EvictionEntry) error
	// ListArchivals returns up to limit records, newest first. limit <= 0
	// returns everything.
	ListArchivals(ctx context.Context, limit int) ([]ArchivalEntry, error)
	ListEvictions(ctx context.Context, limit int) ([]EvictionEntry, error)

	Ping() error
	Close() error
}

// BoltStore implements Store using bbolt (BoltDB).
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewBoltStore opens or creates a BoltDB history store.
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	s := &BoltStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltStore) initSchema() error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		sys, err := tx.CreateBucketIfNotExists(bucketSystem)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketArchivals); err != nil {
			return err
		}
		if sys.Get(keySchemaVersion) == nil {
			if _, err := tx.CreateBucketIfNotExists(bucketEvictions); err != nil {
				return err
			}
			return sys.Put(keySchemaVersion, uint64ToBytes(currentSchemaVersion))
		}
		return nil
	}); err != nil {
		return err
	}
	return s.Migrate()
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (s *BoltStore) put(bucket []byte, at time.Time, v any) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("encoding %s entry: %w", bucket, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%s bucket not found", bucket)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(entryKey(at, seq), data)
	})
}

func (s *BoltStore) RecordArchival(_ context.Context, entry ArchivalEntry) error {
	return s.put(bucketArchivals, entry.FinishedAt, &entry)
}

func (s *BoltStore) RecordEviction(_ context.Context, entry EvictionEntry) error {
	return s.put(bucketEvictions, entry.EvictedAt, &entry)
}

// scanNewest visits values of bucket newest first until limit values were
// visited or fn returns an error.
func (s *BoltStore) scanNewest(bucket []byte, limit int, fn func(v []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		n := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && n >= limit {
				break
			}
			if err := fn(v); err != nil {
				return err
			}
			n++
		}
		return nil
	})
}

func (s *BoltStore) ListArchivals(_ context.Context, limit int) ([]ArchivalEntry, error) {
	var entries []ArchivalEntry
	err := s.scanNewest(bucketArchivals, limit, func(v []byte) error {
		var e ArchivalEntry
		if err := decode(v, &e); err != nil {
			return fmt.Errorf("decoding archival entry: %w", err)
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

func (s *BoltStore) ListEvictions(_ context.Context, limit int) ([]EvictionEntry, error) {
	var entries []EvictionEntry
	err := s.scanNewest(bucketEvictions, limit, func(v []byte) error {
		var e EvictionEntry
		if err := decode(v, &e); err != nil {
			return fmt.Errorf("decoding eviction entry: %w", err)
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Ping verifies the database is readable.
func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketSystem) == nil {
			return fmt.Errorf("system bucket not found")
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
