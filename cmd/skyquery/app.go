package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/skyquery/internal/collector"
	"github.com/yairfalse/skyquery/internal/compress"
	"github.com/yairfalse/skyquery/internal/config"
	"github.com/yairfalse/skyquery/internal/emitter"
	"github.com/yairfalse/skyquery/internal/filter"
	"github.com/yairfalse/skyquery/internal/history"
	"github.com/yairfalse/skyquery/internal/llm"
	"github.com/yairfalse/skyquery/internal/provider"
	awsprovider "github.com/yairfalse/skyquery/internal/provider/aws"
	"github.com/yairfalse/skyquery/internal/session"
	"github.com/yairfalse/skyquery/internal/storage"
	"github.com/yairfalse/skyquery/internal/telemetry"
)

const providerName = "aws"

// appOptions selects optional parts of the wiring.
type appOptions struct {
	// prometheus serves OTEL metrics through the default registry.
	prometheus bool
}

// app holds everything a command needs.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Provider
	store     *storage.Store
	journal   *history.Journal
	profiles  provider.ProfileResolver
	bedrock   *bedrockConfigs
	adapter   *llm.Adapter
	emitter   emitter.Emitter
	session   *session.Session
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	var topts []telemetry.Option
	if opts.prometheus {
		topts = append(topts, telemetry.WithPrometheusExporter())
	}
	tp, err := telemetry.NewProvider(ctx, cfg.OTEL, topts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{cfg: cfg, telemetry: tp}

	a.store, err = storage.Open(cfg.Storage.Dir)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a.journal, err = history.Open(cfg.Storage.Dir)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	awsProv := awsprovider.New(awsprovider.Config{Region: cfg.AWS.Region})
	provider.Register(awsProv)
	a.profiles = awsProv

	resources, ok := provider.Get(providerName)
	if !ok {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("provider %q not registered", providerName)
	}
	col := collector.New(resources,
		collector.WithRateLimit(cfg.Collector.RatePerSecond, cfg.Collector.Burst),
		collector.WithMetrics(tp),
		collector.WithFilter(filter.New(
			cfg.Collector.ExcludeCategories,
			cfg.Collector.IncludeTags,
			cfg.Collector.ExcludeTags,
		)),
	)

	a.bedrock = newBedrockConfigs(cfg.AWS.Region)
	a.adapter = llm.New(llm.TransportFunc(a.invokeBedrock), llm.Config{
		TokenBudget: cfg.Model.TokenBudget,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		Timeout:     cfg.Model.Timeout,
		MaxRetries:  cfg.Model.MaxRetries,
	},
		llm.WithOpenAI(newOpenAITransport(cfg.Model)),
		llm.WithMetrics(tp),
		llm.WithCompressor(compress.New(compress.NewEstimator(cfg.Model.Tokenizer))),
	)

	inventoryMetrics, err := emitter.NewMetricsEmitter(tp.Meter())
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to create emitter: %w", err)
	}
	a.emitter = emitter.NewMultiEmitter(emitter.LogEmitter{}, inventoryMetrics)

	a.session = session.New(col, a.adapter,
		session.WithProfile(cfg.AWS.Profile, cfg.AWS.Region),
		session.WithModelID(cfg.Model.ID),
		session.WithSnapshots(a.store, cfg.Storage.KeepSnapshots),
		session.WithModelLister(a.listModels, a.store),
		session.WithJournal(a.journal),
		session.WithEmitter(a.emitter),
		session.WithMetrics(tp),
	)

	log.Debug().
		Str("profile", cfg.AWS.Profile).
		Str("region", cfg.AWS.Region).
		Str("model", cfg.Model.ID).
		Str("storage", a.store.Dir()).
		Msg("skyquery initialized")

	return a, nil
}

// Close releases storage and flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.emitter != nil {
		errs = append(errs, a.emitter.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// invokeBedrock sends a request with the credentials of the session's
// current profile.
func (a *app) invokeBedrock(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	awsCfg, err := a.bedrock.get(ctx, a.session.Profile())
	if err != nil {
		return nil, err
	}
	return llm.NewBedrockTransportFromConfig(awsCfg).Invoke(ctx, modelID, body)
}

// listModels lists the Bedrock models of the session's current profile.
func (a *app) listModels(ctx context.Context) ([]llm.Model, error) {
	awsCfg, err := a.bedrock.get(ctx, a.session.Profile())
	if err != nil {
		return nil, err
	}
	return a.adapter.ListModels(ctx, llm.NewCatalog(awsCfg), llm.ListOptions{
		SkipAccessVerification: a.cfg.Model.SkipAccessVerification,
	})
}

// models returns the model list. Unverified lists bypass the cache.
func (a *app) models(ctx context.Context, refresh bool) ([]llm.Model, error) {
	if a.cfg.Model.SkipAccessVerification {
		return a.listModels(ctx)
	}
	return a.session.Models(ctx, refresh)
}

// bedrockConfigs caches resolved AWS configs per profile.
type bedrockConfigs struct {
	region string

	mu      sync.Mutex
	configs map[string]aws.Config
}

func newBedrockConfigs(region string) *bedrockConfigs {
	return &bedrockConfigs{
		region:  region,
		configs: make(map[string]aws.Config),
	}
}

func (b *bedrockConfigs) get(ctx context.Context, profile string) (aws.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.configs[profile]; ok {
		return c, nil
	}
	c, err := awsprovider.LoadConfig(ctx, b.region, profile)
	if err != nil {
		return aws.Config{}, err
	}
	b.configs[profile] = c
	return c, nil
}

// newOpenAITransport routes "ollama:" models to a local Ollama server and
// every other OpenAI-family model to the configured endpoint.
func newOpenAITransport(mc config.ModelConfig) llm.Transport {
	remote := llm.NewOpenAITransportFromConfig(mc.OpenAIBaseURL, os.Getenv(mc.OpenAIAPIKeyEnv))
	local := llm.NewOpenAITransportFromConfig(llm.OllamaBaseURL, "ollama")

	return llm.TransportFunc(func(ctx context.Context, modelID string, body []byte) ([]byte, error) {
		if strings.HasPrefix(modelID, "ollama:") {
			return local.Invoke(ctx, modelID, body)
		}
		return remote.Invoke(ctx, modelID, body)
	})
}
