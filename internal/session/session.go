// Package session holds the state of one interactive inventory session and
// runs the question pipeline: classify, collect, route, then either format
// a structured result or ask a model over compressed context.
package session

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/skyquery/internal/emitter"
	"github.com/yairfalse/skyquery/internal/history"
	"github.com/yairfalse/skyquery/internal/llm"
	"github.com/yairfalse/skyquery/internal/storage"
	"github.com/yairfalse/skyquery/internal/telemetry"
	"github.com/yairfalse/skyquery/pkg/inventory"
)

// ModelCacheTTL bounds how long a cached model list is reused.
const ModelCacheTTL = time.Hour

// Collector fetches inventories.
type Collector interface {
	Collect(ctx context.Context, cats []inventory.Category, profile string) inventory.RawResourceSet
}

// Model answers questions over context.
type Model interface {
	Query(ctx context.Context, question string, docs []string, modelID string) (string, bool)
	Ask(ctx context.Context, question, contextText, modelID string) (string, bool)
}

// ModelLister lists the models available to the session's profile.
type ModelLister func(ctx context.Context) ([]llm.Model, error)

// Journal records handled questions.
type Journal interface {
	Record(e history.Entry) (history.Entry, error)
}

// Metrics records routed questions.
type Metrics interface {
	RecordQuery(ctx context.Context, route string)
}

// Session owns the last collected inventory and model list.
type Session struct {
	collector Collector
	model     Model
	lister    ModelLister
	snapshots storage.SnapshotStorage
	cache     storage.Cache
	keep      int
	journal   Journal
	emitter   emitter.Emitter
	metrics   Metrics
	tracer    trace.Tracer

	profile string
	region  string
	modelID string

	data     inventory.RawResourceSet
	revision int64
	models   []llm.Model
}

// Option configures a Session.
type Option func(*Session)

// WithProfile sets the credential profile and region label.
func WithProfile(profile, region string) Option {
	return func(s *Session) {
		s.profile = profile
		s.region = region
	}
}

// WithModelID sets the model used for unstructured questions.
func WithModelID(id string) Option {
	return func(s *Session) {
		s.modelID = id
	}
}

// WithSnapshots stores every collection in st, keeping the newest keep.
// keep <= 0 disables pruning.
func WithSnapshots(st storage.SnapshotStorage, keep int) Option {
	return func(s *Session) {
		s.snapshots = st
		s.keep = keep
	}
}

// WithModelLister sets how models are listed, caching results in c when
// c is non-nil.
func WithModelLister(l ModelLister, c storage.Cache) Option {
	return func(s *Session) {
		s.lister = l
		s.cache = c
	}
}

// WithJournal records every handled question in j.
func WithJournal(j Journal) Option {
	return func(s *Session) {
		s.journal = j
	}
}

// WithEmitter publishes every collection through e.
func WithEmitter(e emitter.Emitter) Option {
	return func(s *Session) {
		s.emitter = e
	}
}

// WithMetrics records routing outcomes through m.
func WithMetrics(m Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// New creates a session.
func New(c Collector, m Model, opts ...Option) *Session {
	s := &Session{
		collector: c,
		model:     m,
		profile:   "default",
		tracer:    otel.Tracer("skyquery/session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Profile returns the active credential profile.
func (s *Session) Profile() string { return s.profile }

// ModelID returns the active model.
func (s *Session) ModelID() string { return s.modelID }

// SetModelID switches the model for later questions.
func (s *Session) SetModelID(id string) { s.modelID = id }

// SetProfile switches the credential profile and drops the inventory and
// model list of the previous one.
func (s *Session) SetProfile(profile string) {
	if profile == s.profile {
		return
	}
	s.profile = profile
	s.data = nil
	s.revision = 0
	s.models = nil
}

// Data returns the last collected inventory, or nil.
func (s *Session) Data() inventory.RawResourceSet { return s.data }

// Revision returns the snapshot revision of the current inventory, or 0
// when it was not stored.
func (s *Session) Revision() int64 { return s.revision }

// CollectResult describes one collection.
type CollectResult struct {
	Revision   int64                `json:"revision,omitempty"`
	Categories []inventory.Category `json:"categories"`
	Failed     []inventory.Category `json:"failed,omitempty"`
	Records    int                  `json:"records"`
	Duration   time.Duration        `json:"duration"`
}

// Collect replaces the session inventory with a fresh collection of cats.
// Storage and emitter failures are logged; the collection is kept.
func (s *Session) Collect(ctx context.Context, cats []inventory.Category) CollectResult {
	ctx, span := s.tracer.Start(ctx, "session.collect")
	defer span.End()

	start := time.Now()
	set := s.collector.Collect(ctx, cats, s.profile)
	res := CollectResult{
		Categories: set.Categories(),
		Failed:     set.Failed(),
		Duration:   time.Since(start),
	}
	for _, c := range res.Categories {
		res.Records += set[c].Count()
	}

	s.data = set
	s.revision = 0
	s.store(ctx, set, &res)

	if s.emitter != nil {
		err := s.emitter.Emit(ctx, emitter.Snapshot{
			Revision: res.Revision,
			Profile:  s.profile,
			Region:   s.region,
			Set:      set,
			Duration: res.Duration,
		})
		if err != nil {
			telemetry.WithContext(ctx).Warn().Err(err).Msg("failed to emit inventory")
		}
	}

	span.SetAttributes(
		attribute.Int("categories", len(res.Categories)),
		attribute.Int("records", res.Records),
	)
	return res
}

func (s *Session) store(ctx context.Context, set inventory.RawResourceSet, res *CollectResult) {
	if s.snapshots == nil {
		return
	}
	logger := telemetry.WithContext(ctx)

	info, err := s.snapshots.SaveSnapshot(set, s.profile, s.region)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to store snapshot")
		return
	}
	s.revision = info.Revision
	res.Revision = info.Revision

	if s.keep <= 0 {
		return
	}
	removed, err := s.snapshots.Prune(s.keep)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to prune snapshots")
		return
	}
	if removed > 0 {
		logger.Debug().Int("removed", removed).Msg("pruned snapshots")
	}
}

// LoadSnapshot makes a stored revision the session inventory.
func (s *Session) LoadSnapshot(rev int64) error {
	if s.snapshots == nil {
		return fmt.Errorf("no snapshot storage configured")
	}
	set, err := s.snapshots.Load(rev)
	if err != nil {
		return fmt.Errorf("load snapshot %d: %w", rev, err)
	}
	s.data = set
	s.revision = rev
	return nil
}

// Clear discards the collected inventory and the model list.
func (s *Session) Clear() {
	s.data = nil
	s.revision = 0
	s.models = nil
	if s.cache != nil {
		if err := s.cache.DeleteCache(s.modelCacheKey()); err != nil {
			telemetry.WithContext(context.Background()).Warn().Err(err).Msg("failed to drop model cache")
		}
	}
}

// Models returns the model list, listing afresh when refresh is set or
// nothing is cached.
func (s *Session) Models(ctx context.Context, refresh bool) ([]llm.Model, error) {
	if !refresh && s.models != nil {
		return s.models, nil
	}
	if !refresh && s.cache != nil {
		var cached []llm.Model
		found, err := s.cache.GetCache(s.modelCacheKey(), &cached, ModelCacheTTL)
		if err != nil {
			telemetry.WithContext(ctx).Warn().Err(err).Msg("failed to read model cache")
		}
		if found {
			s.models = cached
			return cached, nil
		}
	}
	if s.lister == nil {
		return nil, fmt.Errorf("no model lister configured")
	}

	models, err := s.lister(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	s.models = models
	if s.cache != nil {
		if err := s.cache.PutCache(s.modelCacheKey(), models); err != nil {
			telemetry.WithContext(ctx).Warn().Err(err).Msg("failed to cache models")
		}
	}
	return models, nil
}

func (s *Session) modelCacheKey() string {
	return "models/" + s.profile
}
