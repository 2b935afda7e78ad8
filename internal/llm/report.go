package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/skyquery/internal/compress"
)

// Diagnostic is a user-facing explanation of why no answer was produced.
type Diagnostic struct {
	Kind        Kind
	Model       string
	Title       string
	Detail      string
	Suggestions []string
	// Token counts are set for overflow diagnostics.
	ContextTokens int
	QueryTokens   int
	TotalTokens   int
	Budget        int
	// Raw is the indented response body of a shape error.
	Raw string
}

// String renders d as plain text.
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.Title)
	if d.Detail != "" {
		b.WriteString("\n")
		b.WriteString(d.Detail)
	}
	if len(d.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, s := range d.Suggestions {
			fmt.Fprintf(&b, "\n%d. %s", i+1, s)
		}
	}
	if d.Raw != "" {
		b.WriteString("\nResponse structure:\n")
		b.WriteString(d.Raw)
	}
	return b.String()
}

// Reporter receives diagnostics alongside a failed query.
type Reporter interface {
	Report(d Diagnostic)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Diagnostic)

// Report calls f.
func (f ReporterFunc) Report(d Diagnostic) { f(d) }

// LogReporter writes diagnostics to the global logger.
type LogReporter struct{}

// Report implements Reporter.
func (LogReporter) Report(d Diagnostic) {
	log.Error().
		Str("kind", string(d.Kind)).
		Str("model", d.Model).
		Int("tokens", d.TotalTokens).
		Strs("suggestions", d.Suggestions).
		Msg(d.Title + ": " + d.Detail)
}

var preflightSuggestions = []string{
	"Try asking a more specific question",
	"Use fewer AWS resources or regions",
	"Enable debug mode to see exact token counts",
}

var overflowSuggestions = []string{
	"Enable debug mode to see token counts",
	"Use a more specific question to reduce context needed",
	"Consider using a different model with larger context window",
	"Try splitting your question into smaller parts",
}

func preflightDiagnostic(model string, ctxTokens, queryTokens, budget int) Diagnostic {
	total := ctxTokens + queryTokens + preflightBuffer
	return Diagnostic{
		Kind:          KindOverflow,
		Model:         model,
		Title:         "Input Too Long - Pre-flight Check",
		Detail:        fmt.Sprintf("Estimated total tokens: %d, limit: %d", total, budget),
		Suggestions:   preflightSuggestions,
		ContextTokens: ctxTokens,
		QueryTokens:   queryTokens,
		TotalTokens:   total,
		Budget:        budget,
	}
}

// queryTooLongDiagnostic reports a question that leaves no room for context.
func queryTooLongDiagnostic(model string, queryTokens, budget int) Diagnostic {
	return Diagnostic{
		Kind:        KindOverflow,
		Model:       model,
		Title:       "Input Too Long - Pre-flight Check",
		Detail:      fmt.Sprintf("The question uses %d tokens and leaves no room for infrastructure data, limit: %d", queryTokens, budget),
		Suggestions: preflightSuggestions,
		QueryTokens: queryTokens,
		TotalTokens: queryTokens + compress.ReservedBuffer + compress.MinAvailable,
		Budget:      budget,
	}
}

// diagnose turns a classified error into a diagnostic.
func diagnose(e *Error) Diagnostic {
	d := Diagnostic{Kind: e.Kind, Model: e.Model}
	switch e.Kind {
	case KindAccessDenied:
		d.Title = "Access denied"
		d.Detail = fmt.Sprintf("Access denied to model '%s'. Please check your permissions.", e.Model)
	case KindOverflow:
		d.Title = "Input Too Long Error"
		d.Detail = fmt.Sprintf("The AWS infrastructure data is too large for the model '%s'.", e.Model)
		d.Suggestions = overflowSuggestions
	case KindValidation:
		d.Title = "Invalid request"
		d.Detail = fmt.Sprintf("Invalid request to model '%s': %s", e.Model, e.Message)
	case KindNotFound:
		d.Title = "Model not found"
		d.Detail = fmt.Sprintf("Model '%s' not found. Please check the model ID.", e.Model)
	case KindTimeout:
		d.Title = "Model timeout"
		d.Detail = fmt.Sprintf("Model '%s' did not respond: %s", e.Model, e.Message)
	case KindShape:
		d.Title = "Unrecognized response"
		d.Detail = fmt.Sprintf("Error parsing response from model '%s': %s", e.Model, e.Message)
		d.Raw = indentRaw(e.Raw)
	default:
		d.Title = "Model error"
		d.Detail = fmt.Sprintf("Error querying model '%s': %s", e.Model, e.Message)
	}
	return d
}

func indentRaw(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
