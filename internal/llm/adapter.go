package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/skyquery/internal/compress"
)

const (
	preflightBuffer = compress.PreflightBuffer
	// minimalRetryChars is the context size above which an overflow is
	// retried with minimal context.
	minimalRetryChars = 1000

	selfTestPrompt    = "Hello, just say 'Test successful'"
	selfTestMaxTokens = 20
)

// OutcomeSuccess is the invocation outcome of an answered call. Failed
// calls record their error Kind.
const OutcomeSuccess = "success"

// Config holds the request settings of an Adapter.
type Config struct {
	TokenBudget int
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// Metrics records model invocations.
type Metrics interface {
	RecordModelInvocation(ctx context.Context, family, outcome string)
	RecordContextTokens(ctx context.Context, tokens int)
}

// Adapter answers questions over infrastructure context with a model.
type Adapter struct {
	bedrock    Transport
	openai     Transport
	cfg        Config
	compressor *compress.Compressor
	reporter   Reporter
	metrics    Metrics
	newBackOff func() backoff.BackOff
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithOpenAI sets the transport for OpenAI-compatible models.
func WithOpenAI(t Transport) Option {
	return func(a *Adapter) {
		a.openai = t
	}
}

// WithReporter sets the diagnostic sink. The default logs diagnostics.
func WithReporter(r Reporter) Option {
	return func(a *Adapter) {
		a.reporter = r
	}
}

// WithMetrics records invocations through m.
func WithMetrics(m Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// WithCompressor sets the compressor, and with it the token estimator.
func WithCompressor(c *compress.Compressor) Option {
	return func(a *Adapter) {
		a.compressor = c
	}
}

// WithBackOff sets the retry schedule for timed out calls.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(a *Adapter) {
		a.newBackOff = fn
	}
}

// New creates an Adapter sending Bedrock-family requests through bedrock.
func New(bedrock Transport, cfg Config, opts ...Option) *Adapter {
	if cfg.TokenBudget == 0 {
		cfg.TokenBudget = 8000
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	a := &Adapter{
		bedrock:    bedrock,
		cfg:        cfg,
		compressor: compress.New(nil),
		reporter:   LogReporter{},
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Budget returns the configured input token budget.
func (a *Adapter) Budget() int {
	return a.cfg.TokenBudget
}

// Compressor returns the compressor used to build context.
func (a *Adapter) Compressor() *compress.Compressor {
	return a.compressor
}

// Query compresses docs for question, runs the pre-flight size check and
// asks modelID. A question that leaves no room for context is never sent. An overflow, before or during the call, is retried once
// with minimal context. On failure it reports a diagnostic and returns false.
func (a *Adapter) Query(ctx context.Context, question string, docs []string, modelID string) (string, bool) {
	budget := a.cfg.TokenBudget
	c := a.compressor

	contextText := c.PrepareContext(docs, question, budget)
	log.Debug().
		Str("model", modelID).
		Int("context_chars", len(contextText)).
		Int("context_tokens", c.Estimate(contextText)).
		Int("query_tokens", c.Estimate(question)).
		Msg("prepared model context")

	if contextText == compress.QueryTooLong {
		a.reporter.Report(queryTooLongDiagnostic(modelID, c.Estimate(question), budget))
		return "", false
	}

	minimal := false
	if c.Overflows(contextText, question, budget) {
		a.reporter.Report(preflightDiagnostic(modelID, c.Estimate(contextText), c.Estimate(question), budget))
		if len(contextText) <= minimalRetryChars {
			return "", false
		}
		log.Info().Str("model", modelID).Msg("trying with minimal context")
		contextText = c.MinimalContext(docs, question)
		if c.Overflows(contextText, question, budget) {
			return "", false
		}
		minimal = true
		log.Info().Int("tokens", c.Estimate(contextText)).Msg("reduced context, proceeding")
	}

	answer, err := a.ask(ctx, question, contextText, modelID)
	if err == nil {
		return answer, true
	}

	if err.Kind == KindOverflow && !minimal && len(contextText) > minimalRetryChars {
		a.reporter.Report(diagnose(err))
		log.Info().Str("model", modelID).Msg("model rejected input size, retrying with minimal context")
		answer, err = a.ask(ctx, question, c.MinimalContext(docs, question), modelID)
		if err == nil {
			return answer, true
		}
	}

	a.reporter.Report(diagnose(err))
	return "", false
}

// Ask sends question with an already prepared context to modelID. On failure
// it reports a diagnostic and returns false.
func (a *Adapter) Ask(ctx context.Context, question, contextText, modelID string) (string, bool) {
	answer, err := a.ask(ctx, question, contextText, modelID)
	if err != nil {
		a.reporter.Report(diagnose(err))
		return "", false
	}
	return answer, true
}

func (a *Adapter) ask(ctx context.Context, question, contextText, modelID string) (string, *Error) {
	family := DetectFamily(modelID)
	temperature := a.cfg.Temperature

	body, err := BuildBody(family, modelID, Frame(family, contextText, question), Params{
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", Classify(modelID, err)
	}

	if a.metrics != nil {
		a.metrics.RecordContextTokens(ctx, a.compressor.Estimate(contextText)+a.compressor.Estimate(question))
	}

	raw, err := a.invoke(ctx, family, modelID, body)
	if err == nil {
		var text string
		text, err = ExtractText(family, raw)
		if err == nil {
			a.record(ctx, family, OutcomeSuccess)
			return text, nil
		}
	}

	le := Classify(modelID, err)
	a.record(ctx, family, string(le.Kind))
	log.Warn().
		Str("model", modelID).
		Str("family", string(family)).
		Str("kind", string(le.Kind)).
		Str("code", le.Code).
		Msg("model query failed")
	return "", le
}

// SelfTest sends a minimal fixed prompt to modelID. It returns the raw
// response body on success and the error text otherwise.
func (a *Adapter) SelfTest(ctx context.Context, modelID string) (bool, string) {
	family := DetectFamily(modelID)
	body, err := BuildBody(family, modelID, Prompt{User: selfTestPrompt}, Params{MaxTokens: selfTestMaxTokens})
	if err != nil {
		return false, err.Error()
	}

	raw, err := a.invoke(ctx, family, modelID, body)
	if err != nil {
		a.record(ctx, family, string(Classify(modelID, err).Kind))
		return false, err.Error()
	}
	a.record(ctx, family, OutcomeSuccess)
	return true, string(raw)
}

// invoke calls the family's transport with a per-attempt timeout. Timeouts
// are retried with exponential backoff; other errors are returned at once.
func (a *Adapter) invoke(ctx context.Context, family Family, modelID string, body []byte) ([]byte, error) {
	t := a.transportFor(family)
	if t == nil {
		return nil, &Error{Kind: KindUnknown, Model: modelID, Message: "no transport configured for " + string(family) + " models"}
	}

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		out, err := t.Invoke(callCtx, modelID, body)
		if err == nil {
			return out, nil
		}
		if isTimeout(err) && ctx.Err() == nil {
			log.Warn().Str("model", modelID).Int("attempt", attempt).Msg("model call timed out, retrying")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(a.newBackOff()),
		backoff.WithMaxTries(uint(a.cfg.MaxRetries+1)),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return nil, err
	}
	return out, nil
}

func (a *Adapter) transportFor(f Family) Transport {
	if f == FamilyOpenAI {
		return a.openai
	}
	return a.bedrock
}

func (a *Adapter) record(ctx context.Context, family Family, outcome string) {
	if a.metrics != nil {
		a.metrics.RecordModelInvocation(ctx, string(family), outcome)
	}
}
