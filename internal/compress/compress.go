// Package compress fits collected inventory documents into a model's
// input budget.
package compress

import (
	"strings"
	"unicode/utf8"
)

const (
	// ReservedBuffer is held back for prompt scaffolding on top of the
	// question itself.
	ReservedBuffer = 1500
	// MinAvailable is the smallest context allowance worth sending.
	MinAvailable = 500
	// PreflightBuffer is the scaffolding allowance of the overflow check.
	PreflightBuffer = 1000

	// QueryTooLong is returned when the question leaves no room for context.
	QueryTooLong = "Error: Query too long for available context"
	// NoData is returned when there is no document content at all.
	NoData = "No AWS data available"
	// TruncationMarker is appended to truncated context.
	TruncationMarker = "\n\n[... content truncated due to length limits ...]"
)

const (
	summaryDocs        = 5
	summaryLinesPerDoc = 3
	summaryParts       = 3
	rawDocs            = 5

	minimalDocs         = 3
	minimalLinesPerDoc  = 5
	minimalLines        = 10
	minimalWordLen      = 3
	fallbackDocs        = 2
	fallbackLinesPerDoc = 3
	fallbackLines       = 8
)

var summaryKeywords = []string{
	"instance", "security", "vpc", "subnet", "volume",
	"bucket", "function", "table", "cluster", "database",
}

// Compressor builds model context under a token budget.
type Compressor struct {
	est Estimator
}

// New returns a compressor using est, or the character heuristic when nil.
func New(est Estimator) *Compressor {
	if est == nil {
		est = CharEstimator{}
	}
	return &Compressor{est: est}
}

var std = New(CharEstimator{})

// PrepareContext uses the character heuristic.
func PrepareContext(docs []string, question string, budget int) string {
	return std.PrepareContext(docs, question, budget)
}

// MinimalContext uses the character heuristic.
func MinimalContext(docs []string, question string) string {
	return std.MinimalContext(docs, question)
}

// Estimate returns the token estimate of text.
func (c *Compressor) Estimate(text string) int {
	return c.est.Estimate(text)
}

// Available returns the context allowance left by question under budget.
func (c *Compressor) Available(question string, budget int) int {
	return budget - (c.est.Estimate(question) + ReservedBuffer)
}

// Overflows reports whether context and question together exceed budget
// once the preflight buffer is added.
func (c *Compressor) Overflows(context, question string, budget int) bool {
	return c.est.Estimate(context)+c.est.Estimate(question)+PreflightBuffer > budget
}

// PrepareContext returns at most Available(question, budget) tokens of
// context. Strategies in order: a keyword summary when there are more than
// three documents, whole documents while they fit, then the first document
// truncated. It never returns an empty string.
func (c *Compressor) PrepareContext(docs []string, question string, budget int) string {
	available := c.Available(question, budget)
	if available <= MinAvailable {
		return QueryTooLong
	}

	if len(docs) > 3 {
		if s := summarize(docs); s != "" && c.est.Estimate(s) <= available {
			return s
		}
	}

	var ctx string
	for _, doc := range head(docs, rawDocs) {
		if strings.TrimSpace(doc) == "" {
			continue
		}
		next := doc
		if ctx != "" {
			next = ctx + "\n\n" + doc
		}
		if c.est.Estimate(next) > available {
			break
		}
		ctx = next
	}
	if ctx != "" {
		return ctx
	}

	for _, doc := range head(docs, rawDocs) {
		if strings.TrimSpace(doc) != "" {
			return c.Truncate(doc, available)
		}
	}
	return NoData
}

// Truncate cuts text at a line boundary so that the result, marker
// included, is within maxTokens.
func (c *Compressor) Truncate(text string, maxTokens int) string {
	if c.est.Estimate(text) <= maxTokens {
		return text
	}

	limit := maxTokens*charsPerToken - len(TruncationMarker)
	for limit > 0 {
		if limit > len(text) {
			limit = len(text)
		}
		for limit > 0 && limit < len(text) && !utf8.RuneStart(text[limit]) {
			limit--
		}
		cut := text[:limit]
		if i := strings.LastIndexByte(cut, '\n'); i > 0 {
			cut = cut[:i]
		}
		out := strings.TrimRight(cut, "\n") + TruncationMarker
		if c.est.Estimate(out) <= maxTokens {
			return out
		}
		limit = len(cut) * 9 / 10
	}
	return strings.TrimSpace(TruncationMarker)
}

// summarize keeps up to three keyword lines from each of the first five
// documents, and at most three documents' worth.
func summarize(docs []string) string {
	var parts []string
	for _, doc := range head(docs, summaryDocs) {
		var keep []string
		for _, line := range strings.Split(doc, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || !containsAny(strings.ToLower(line), summaryKeywords) {
				continue
			}
			keep = append(keep, line)
			if len(keep) == summaryLinesPerDoc {
				break
			}
		}
		if len(keep) > 0 {
			parts = append(parts, strings.Join(keep, "\n"))
		}
		if len(parts) == summaryParts {
			break
		}
	}
	return strings.Join(parts, "\n\n")
}

// MinimalContext keeps only lines sharing a word (longer than three
// characters) with the question: at most five per document, ten overall,
// from the first three documents. Without any overlap it falls back to the
// first lines of the first two documents.
func (c *Compressor) MinimalContext(docs []string, question string) string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		if utf8.RuneCountInString(w) > minimalWordLen {
			words = append(words, w)
		}
	}

	var lines []string
	if len(words) > 0 {
		for _, doc := range head(docs, minimalDocs) {
			var relevant []string
			for _, line := range strings.Split(doc, "\n") {
				line = strings.TrimSpace(line)
				if line == "" || !containsAny(strings.ToLower(line), words) {
					continue
				}
				relevant = append(relevant, line)
				if len(relevant) == minimalLinesPerDoc {
					break
				}
			}
			lines = append(lines, relevant...)
			if len(lines) >= minimalLines {
				break
			}
		}
	}
	if len(lines) > 0 {
		return strings.Join(head(lines, minimalLines), "\n")
	}

	for _, doc := range head(docs, fallbackDocs) {
		for _, line := range head(strings.Split(doc, "\n"), fallbackLinesPerDoc) {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
	}
	if len(lines) == 0 {
		return NoData
	}
	return strings.Join(head(lines, fallbackLines), "\n")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
