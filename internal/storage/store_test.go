package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

func sampleSet(instanceIDs ...string) inventory.RawResourceSet {
	instances := make([]inventory.Record, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		instances = append(instances, inventory.Record{"InstanceId": id, "State": "running"})
	}
	return inventory.RawResourceSet{
		inventory.EC2: inventory.Success(map[inventory.Subtype][]inventory.Record{
			inventory.Instances: instances,
		}),
		inventory.S3: inventory.Success(map[inventory.Subtype][]inventory.Record{
			inventory.Buckets: {{"Name": "logs"}},
		}),
		inventory.IAM: inventory.Failure(errors.New("AccessDenied")),
	}
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := openStore(t)

	info, err := s.SaveSnapshot(sampleSet("i-1", "i-2"), "default", "us-east-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), info.Revision)
	assert.Equal(t, "default", info.Profile)
	assert.Equal(t, 3, info.Records)
	assert.Equal(t, []inventory.Category{inventory.EC2, inventory.S3, inventory.IAM}, info.Categories)
	assert.Equal(t, []inventory.Category{inventory.IAM}, info.Failed)

	set, err := s.Load(info.Revision)
	require.NoError(t, err)
	assert.Len(t, set.Records(inventory.EC2, inventory.Instances), 2)
	assert.Equal(t, "logs", set.Records(inventory.S3, inventory.Buckets)[0].Str("Name"))
	assert.False(t, set[inventory.IAM].OK())
}

func TestStore_LoadUnknownRevision(t *testing.T) {
	s := openStore(t)

	_, err := s.Load(42)
	assert.ErrorIs(t, err, ErrNotFound)

	_, ok := s.Info(42)
	assert.False(t, ok)
}

func TestStore_RevisionsIncrease(t *testing.T) {
	s := openStore(t)

	first, err := s.SaveSnapshot(sampleSet("i-1"), "default", "")
	require.NoError(t, err)
	second, err := s.SaveSnapshot(sampleSet("i-1", "i-2"), "prod", "")
	require.NoError(t, err)

	assert.Greater(t, second.Revision, first.Revision)
	assert.Equal(t, second.Revision, s.CurrentRevision())

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, second.Revision, latest.Revision)

	prev, ok := s.Previous(second.Revision)
	require.True(t, ok)
	assert.Equal(t, first.Revision, prev.Revision)

	_, ok = s.Previous(first.Revision)
	assert.False(t, ok)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.Revision, list[0].Revision)
	assert.Equal(t, first.Revision, list[1].Revision)
}

func TestStore_ReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.SaveSnapshot(sampleSet("i-1"), "default", "")
	require.NoError(t, err)
	_, err = s.SaveSnapshot(sampleSet("i-2"), "default", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, int64(2), reopened.CurrentRevision())
	assert.Len(t, reopened.List(), 2)

	info, err := reopened.SaveSnapshot(sampleSet("i-3"), "default", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Revision)
}

func TestStore_Prune(t *testing.T) {
	s := openStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.SaveSnapshot(sampleSet("i-1"), "default", "")
		require.NoError(t, err)
	}

	removed, err := s.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, int64(5), list[0].Revision)
	assert.Equal(t, int64(4), list[1].Revision)

	_, err = s.Load(1)
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err = s.Prune(10)
	require.NoError(t, err)
	assert.Zero(t, removed)

	info, err := s.SaveSnapshot(sampleSet("i-1"), "default", "")
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Revision)
}

func TestStore_Cache(t *testing.T) {
	s := openStore(t)

	type entry struct {
		ID string `json:"id"`
	}

	var got []entry
	found, err := s.GetCache("models/default", &got, 0)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.PutCache("models/default", []entry{{ID: "a"}, {ID: "b"}}))

	found, err = s.GetCache("models/default", &got, time.Hour)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []entry{{ID: "a"}, {ID: "b"}}, got)

	time.Sleep(5 * time.Millisecond)
	found, err = s.GetCache("models/default", &got, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.DeleteCache("models/default"))
	found, err = s.GetCache("models/default", &got, 0)
	require.NoError(t, err)
	assert.False(t, found)
}
