package history

import (
	"encoding/binary"
	"time"
)

// Bucket names in BoltDB.
var (
	bucketSystem     = []byte("system")
	bucketArchivals  = []byte("archivals")
	bucketEvictions  = []byte("evictions")
	keySchemaVersion = []byte("schema_version")
)

// Schema v1 only recorded archivals. v2 adds the evictions bucket.
const currentSchemaVersion = 2

// ArchivalEntry is the record of one transfer attempt that reached a
// terminal state.
type ArchivalEntry struct {
	JobID       string
	Plot        string
	Source      string
	Destination string
	SizeBytes   int64
	Attempt     int
	StartedAt   time.Time
	FinishedAt  time.Time
	// Error is empty for a successful archival.
	Error string
}

// Succeeded reports whether the plot reached its destination.
func (e *ArchivalEntry) Succeeded() bool {
	return e.Error == ""
}

// Duration is the wall-clock time the transfer took.
func (e *ArchivalEntry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// EvictionEntry is the record of a file deleted to reclaim space.
type EvictionEntry struct {
	Destination string
	Path        string
	SizeBytes   int64
	CreatedAt   time.Time
	EvictedAt   time.Time
	// ForPlot is the plot the space was reclaimed for.
	ForPlot string
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// entryKey orders records by time. The bucket sequence disambiguates records
// written within the same nanosecond.
func entryKey(at time.Time, seq uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k, uint64(at.UnixNano()))
	binary.BigEndian.PutUint64(k[8:], seq)
	return k
}
