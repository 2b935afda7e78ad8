// Package emitter publishes collected inventories to outputs other than the
// interactive session.
package emitter

import (
	"context"
	"time"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

// Snapshot is one completed collection.
type Snapshot struct {
	Revision int64
	Profile  string
	Region   string
	Set      inventory.RawResourceSet
	Duration time.Duration
}

// Emitter outputs collected inventories to a backend.
type Emitter interface {
	// Emit sends a snapshot to the backend.
	Emit(ctx context.Context, snap Snapshot) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, returns first error.
func (m *MultiEmitter) Emit(ctx context.Context, snap Snapshot) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			return err
		}
	}
	return nil
}
