package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

func TestMigrateV1toV2(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	// A v1 database has no evictions bucket.
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		sys, err := tx.CreateBucketIfNotExists(bucketSystem)
		if err != nil {
			return err
		}
		if err := sys.Put(keySchemaVersion, uint64ToBytes(1)); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(bucketArchivals)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	store, err := NewBoltStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltStore after migration: %v", err)
	}
	defer store.Close()

	var version uint64
	store.db.View(func(tx *bbolt.Tx) error {
		version = bytesToUint64(tx.Bucket(bucketSystem).Get(keySchemaVersion))
		return nil
	})
	if version != currentSchemaVersion {
		t.Fatalf("expected schema version %d, got %d", currentSchemaVersion, version)
	}

	if err := store.RecordEviction(context.Background(), EvictionEntry{Path: "/mnt/hdd1/old.plot", EvictedAt: time.Now()}); err != nil {
		t.Fatalf("RecordEviction after migration: %v", err)
	}
}
