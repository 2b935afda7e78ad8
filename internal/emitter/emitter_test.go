package emitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

// recordingEmitter keeps every snapshot it receives.
type recordingEmitter struct {
	received []Snapshot
	closed   bool
	emitErr  error
	closeErr error
}

func (r *recordingEmitter) Emit(_ context.Context, snap Snapshot) error {
	r.received = append(r.received, snap)
	return r.emitErr
}

func (r *recordingEmitter) Close() error {
	r.closed = true
	return r.closeErr
}

func TestMultiEmitter_FansOutSnapshot(t *testing.T) {
	logs, metrics := &recordingEmitter{}, &recordingEmitter{}
	multi := NewMultiEmitter(logs, metrics)

	snap := Snapshot{
		Revision: 7,
		Profile:  "prod",
		Region:   "eu-west-1",
		Set:      instanceSet(map[string]string{"i-123": "running"}),
		Duration: 2 * time.Second,
	}
	require.NoError(t, multi.Emit(context.Background(), snap))

	for _, e := range []*recordingEmitter{logs, metrics} {
		require.Len(t, e.received, 1)
		assert.Equal(t, int64(7), e.received[0].Revision)
		assert.Equal(t, "prod", e.received[0].Profile)
		assert.Equal(t, "i-123", e.received[0].Set.Records(inventory.EC2, inventory.Instances)[0].Str("InstanceId"))
		assert.Equal(t, []inventory.Category{inventory.IAM}, e.received[0].Set.Failed())
	}
}

func TestMultiEmitter_StopsAtFirstFailure(t *testing.T) {
	tests := []struct {
		name string
		run  func(*MultiEmitter) error
		seen func(*recordingEmitter) bool
	}{
		{
			name: "emit",
			run:  func(m *MultiEmitter) error { return m.Emit(context.Background(), Snapshot{Revision: 1}) },
			seen: func(r *recordingEmitter) bool { return len(r.received) > 0 },
		},
		{
			name: "close",
			run:  func(m *MultiEmitter) error { return m.Close() },
			seen: func(r *recordingEmitter) bool { return r.closed },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broken := &recordingEmitter{emitErr: errors.New("exporter down"), closeErr: errors.New("flush failed")}
			after := &recordingEmitter{}

			err := tt.run(NewMultiEmitter(broken, after))

			assert.Error(t, err)
			assert.True(t, tt.seen(broken))
			assert.False(t, tt.seen(after))
		})
	}
}

func TestMultiEmitter_NoEmitters(t *testing.T) {
	multi := NewMultiEmitter()

	assert.NoError(t, multi.Emit(context.Background(), Snapshot{}))
	assert.NoError(t, multi.Close())
}
