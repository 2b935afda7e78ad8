package session

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/skyquery/internal/analyzer"
	"github.com/yairfalse/skyquery/internal/classifier"
	"github.com/yairfalse/skyquery/internal/history"
	"github.com/yairfalse/skyquery/internal/telemetry"
	"github.com/yairfalse/skyquery/pkg/inventory"
)

// AskOptions controls how a question is handled.
type AskOptions struct {
	// Refresh collects even when the inventory already covers the
	// question's categories.
	Refresh bool
	// Explain sends a structured result to the model for a narrative.
	Explain bool
}

// Answer is the outcome of one question.
type Answer struct {
	Question   string               `json:"question"`
	Categories []inventory.Category `json:"categories"`
	Result     analyzer.Result      `json:"result"`
	// Text is the formatted structured result or the model's answer.
	Text string `json:"text,omitempty"`
	// Explanation is the model's narrative of a structured result.
	Explanation string `json:"explanation,omitempty"`
	// Answered is false when the model could not answer.
	Answered bool            `json:"answered"`
	Outcome  history.Outcome `json:"outcome"`
}

// Ask runs the question pipeline. Failures never escape: a question the
// model cannot answer yields Answered=false, with the reason reported by
// the model's diagnostics.
func (s *Session) Ask(ctx context.Context, question string, opts AskOptions) Answer {
	ctx, span := s.tracer.Start(ctx, "session.ask")
	defer span.End()

	cats := classifier.Classify(question)
	if opts.Refresh || !s.covers(cats) {
		s.Collect(ctx, cats)
	}

	ans := Answer{
		Question:   question,
		Categories: cats,
		Result:     analyzer.Route(question, s.data),
	}
	route := string(ans.Result.Type)
	if s.metrics != nil {
		s.metrics.RecordQuery(ctx, route)
	}
	span.SetAttributes(attribute.String("query_type", route))

	if ans.Result.Structured() {
		ans.Text = analyzer.Format(ans.Result)
		ans.Answered = true
		ans.Outcome = history.OutcomeStructured
		if opts.Explain {
			ans.Explanation, _ = s.model.Ask(ctx, question, ans.Text, s.modelID)
		}
	} else {
		text, ok := s.model.Query(ctx, question, s.data.Documents(), s.modelID)
		ans.Text = text
		ans.Answered = ok
		ans.Outcome = history.OutcomeAnswered
		if !ok {
			ans.Outcome = history.OutcomeNoAnswer
		}
	}

	s.record(ctx, ans)
	return ans
}

// covers reports whether the inventory holds a successful collection of
// every category in cats.
func (s *Session) covers(cats []inventory.Category) bool {
	if s.data == nil {
		return false
	}
	for _, c := range cats {
		if res, ok := s.data[c]; !ok || !res.OK() {
			return false
		}
	}
	return true
}

func (s *Session) record(ctx context.Context, ans Answer) {
	if s.journal == nil {
		return
	}
	entry := history.Entry{
		Question:   ans.Question,
		Categories: ans.Categories,
		Route:      string(ans.Result.Type),
		Outcome:    ans.Outcome,
	}
	if !ans.Result.Structured() || ans.Explanation != "" {
		entry.Model = s.modelID
	}
	if _, err := s.journal.Record(entry); err != nil {
		telemetry.WithContext(ctx).Warn().Err(err).Msg("failed to record question")
	}
}
