package storage

import (
	"time"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

// SnapshotWriter records collected inventories.
type SnapshotWriter interface {
	SaveSnapshot(set inventory.RawResourceSet, profile, region string) (SnapshotInfo, error)
	Prune(keep int) (int, error)
}

// SnapshotReader reads stored inventories.
type SnapshotReader interface {
	Load(rev int64) (inventory.RawResourceSet, error)
	Info(rev int64) (SnapshotInfo, bool)
	List() []SnapshotInfo
	Latest() (SnapshotInfo, bool)
	Previous(rev int64) (SnapshotInfo, bool)
}

// SnapshotStorage combines read and write for snapshots.
type SnapshotStorage interface {
	SnapshotWriter
	SnapshotReader
	CurrentRevision() int64
}

// Cache stores JSON values under string keys.
type Cache interface {
	PutCache(key string, v any) error
	GetCache(key string, v any, maxAge time.Duration) (bool, error)
	DeleteCache(key string) error
}

var (
	_ SnapshotStorage = (*Store)(nil)
	_ Cache           = (*Store)(nil)
)
