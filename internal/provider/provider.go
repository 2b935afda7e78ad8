// Package provider defines the cloud inventory provider interfaces for skyquery.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

// ResourceProvider fetches the raw records of one category.
// Implementations return an error for the whole category on failure;
// partial data is not reported.
type ResourceProvider interface {
	// Name returns the provider identifier (e.g., "aws").
	Name() string

	// Fetch returns records keyed by subtype for a category using the
	// given credential profile ("" means the default chain).
	Fetch(ctx context.Context, category inventory.Category, profile string) (map[inventory.Subtype][]inventory.Record, error)
}

// ProfileInfo describes the identity behind a tested profile.
type ProfileInfo struct {
	Profile string `json:"profile"`
	Account string `json:"account"`
	ARN     string `json:"arn"`
	UserID  string `json:"user_id"`
}

// ProfileResolver discovers and validates credential profiles.
type ProfileResolver interface {
	// ListProfiles returns profile names. It always includes "default",
	// even when discovery fails.
	ListProfiles() []string

	// TestProfile verifies the profile can authenticate.
	TestProfile(ctx context.Context, profile string) (ProfileInfo, error)
}

// Registry holds registered providers.
var (
	registry = make(map[string]ResourceProvider)
	mu       sync.RWMutex
)

// Register adds a provider to the registry.
func Register(p ResourceProvider) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Name()] = p
}

// Get returns a provider by name.
func Get(name string) (ResourceProvider, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Names returns all registered provider names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all providers from the registry. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]ResourceProvider)
}
