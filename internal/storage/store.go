// Package storage keeps revisioned inventory snapshots and cached lookups
// in a local bbolt database.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

// Bucket names in bbolt
var (
	bucketSnapshots = []byte("snapshots")
	bucketIndex     = []byte("index")
	bucketMeta      = []byte("meta")
	bucketCache     = []byte("cache")

	keyCurrentRevision = []byte("current_revision")
)

// ErrNotFound is returned for unknown revisions.
var ErrNotFound = errors.New("snapshot not found")

const dbFile = "skyquery.db"

// Store is a revisioned snapshot store. Each saved inventory gets the next
// revision number; an in-memory btree indexes snapshot metadata by revision.
type Store struct {
	mu sync.RWMutex

	// In-memory index of snapshot metadata
	index *btree.BTreeG[*SnapshotInfo]

	db *bbolt.DB

	currentRev int64

	dir string
}

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	Revision   int64                `json:"revision"`
	CreatedAt  time.Time            `json:"created_at"`
	Profile    string               `json:"profile"`
	Region     string               `json:"region,omitempty"`
	Categories []inventory.Category `json:"categories"`
	Failed     []inventory.Category `json:"failed,omitempty"`
	Records    int                  `json:"records"`
}

// Open opens or creates the store under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, dbFile), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketIndex, bucketMeta, bucketCache} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		index: btree.NewG[*SnapshotInfo](32, func(a, b *SnapshotInfo) bool {
			return a.Revision < b.Revision
		}),
		db:  db,
		dir: dir,
	}

	if err := s.loadRevision(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveSnapshot stores set under a new revision.
func (s *Store) SaveSnapshot(set inventory.RawResourceSet, profile, region string) (SnapshotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev := s.currentRev + 1
	info := &SnapshotInfo{
		Revision:   rev,
		CreatedAt:  time.Now().UTC(),
		Profile:    profile,
		Region:     region,
		Categories: set.Categories(),
		Failed:     set.Failed(),
	}
	for _, res := range set {
		info.Records += res.Count()
	}

	data, err := json.Marshal(set)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("encode snapshot: %w", err)
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("encode snapshot info: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		key := makeRevisionKey(rev)
		if err := tx.Bucket(bucketSnapshots).Put(key, data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIndex).Put(key, meta); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyCurrentRevision, int64ToBytes(rev))
	})
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("store snapshot %d: %w", rev, err)
	}

	s.currentRev = rev
	s.index.ReplaceOrInsert(info)
	return *info, nil
}

// Load returns the inventory stored under rev.
func (s *Store) Load(rev int64) (inventory.RawResourceSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var set inventory.RawResourceSet
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get(makeRevisionKey(rev))
		if data == nil {
			return fmt.Errorf("revision %d: %w", rev, ErrNotFound)
		}
		return json.Unmarshal(data, &set)
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// Info returns the metadata of rev.
func (s *Store) Info(rev int64) (SnapshotInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, found := s.index.Get(&SnapshotInfo{Revision: rev})
	if !found {
		return SnapshotInfo{}, false
	}
	return *info, true
}

// List returns every stored snapshot, newest first.
func (s *Store) List() []SnapshotInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SnapshotInfo, 0, s.index.Len())
	s.index.Descend(func(info *SnapshotInfo) bool {
		out = append(out, *info)
		return true
	})
	return out
}

// Latest returns the newest snapshot.
func (s *Store) Latest() (SnapshotInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, found := s.index.Max()
	if !found {
		return SnapshotInfo{}, false
	}
	return *info, true
}

// Previous returns the newest snapshot older than rev.
func (s *Store) Previous(rev int64) (SnapshotInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var prev *SnapshotInfo
	s.index.DescendLessOrEqual(&SnapshotInfo{Revision: rev - 1}, func(info *SnapshotInfo) bool {
		prev = info
		return false
	})
	if prev == nil {
		return SnapshotInfo{}, false
	}
	return *prev, true
}

// CurrentRevision returns the newest revision number ever assigned.
func (s *Store) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// Prune removes all but the newest keep snapshots and returns how many
// were removed. Revision numbers are never reused.
func (s *Store) Prune(keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excess := s.index.Len() - keep
	if keep < 0 || excess <= 0 {
		return 0, nil
	}

	var victims []*SnapshotInfo
	s.index.Ascend(func(info *SnapshotInfo) bool {
		victims = append(victims, info)
		return len(victims) < excess
	})

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, info := range victims {
			key := makeRevisionKey(info.Revision)
			if err := tx.Bucket(bucketSnapshots).Delete(key); err != nil {
				return err
			}
			if err := tx.Bucket(bucketIndex).Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}

	for _, info := range victims {
		s.index.Delete(info)
	}
	return len(victims), nil
}

type cacheEntry struct {
	SavedAt time.Time       `json:"saved_at"`
	Value   json.RawMessage `json:"value"`
}

// PutCache stores v as JSON under key.
func (s *Store) PutCache(key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", key, err)
	}
	data, err := json.Marshal(cacheEntry{SavedAt: time.Now().UTC(), Value: value})
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCache).Put([]byte(key), data)
	})
}

// GetCache decodes the value under key into v. found is false when the
// key is absent or older than maxAge (zero means no limit).
func (s *Store) GetCache(key string, v any, maxAge time.Duration) (found bool, err error) {
	var entry cacheEntry
	err = s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCache).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil || !found {
		return false, err
	}
	if maxAge > 0 && time.Since(entry.SavedAt) > maxAge {
		return false, nil
	}
	if err := json.Unmarshal(entry.Value, v); err != nil {
		return false, fmt.Errorf("decode cache %s: %w", key, err)
	}
	return true, nil
}

// DeleteCache removes key.
func (s *Store) DeleteCache(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCache).Delete([]byte(key))
	})
}

func (s *Store) loadRevision() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyCurrentRevision)
		if data != nil {
			s.currentRev = bytesToInt64(data)
		}
		return nil
	})
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIndex).ForEach(func(k, v []byte) error {
			info := &SnapshotInfo{}
			if err := json.Unmarshal(v, info); err != nil {
				return fmt.Errorf("decode snapshot info %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(info)
			return nil
		})
	})
}

func makeRevisionKey(rev int64) []byte {
	return []byte(fmt.Sprintf("%016d", rev))
}

func int64ToBytes(n int64) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func bytesToInt64(b []byte) int64 {
	var n int64
	_, _ = fmt.Sscanf(string(b), "%d", &n)
	return n
}
