package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/skyquery/internal/analyzer"
	"github.com/yairfalse/skyquery/internal/llm"
	"github.com/yairfalse/skyquery/internal/session"
	"github.com/yairfalse/skyquery/internal/storage"
	"github.com/yairfalse/skyquery/pkg/inventory"
)

// withApp builds the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()
	return fn(ctx, a)
}

// parseCategories resolves category names. Unknown names are reported and
// skipped; "all" selects every category.
func parseCategories(w io.Writer, names []string) []inventory.Category {
	var cats []inventory.Category
	for _, arg := range names {
		for _, name := range strings.Split(arg, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if strings.EqualFold(name, "all") {
				return inventory.All()
			}
			c, ok := inventory.Parse(name)
			if !ok {
				fmt.Fprintf(w, "⚠️  Unknown category %q ignored\n", name)
				continue
			}
			cats = append(cats, c)
		}
	}
	return inventory.Sorted(cats)
}

func printCollect(w io.Writer, res session.CollectResult, set inventory.RawResourceSet) {
	fmt.Fprintf(w, "📦 Collected %d categories, %d records in %s", len(res.Categories), res.Records, res.Duration.Round(time.Millisecond))
	if res.Revision > 0 {
		fmt.Fprintf(w, " (snapshot %d)", res.Revision)
	}
	fmt.Fprintln(w)
	printSetSummary(w, set)
}

func printSetSummary(w io.Writer, set inventory.RawResourceSet) {
	for _, c := range set.Categories() {
		res := set[c]
		if !res.OK() {
			fmt.Fprintf(w, "  ❌ %-12s %s\n", c, res.Err)
			continue
		}
		parts := make([]string, 0, len(res.Data))
		for _, sub := range c.Subtypes() {
			if recs, ok := res.Data[sub]; ok {
				parts = append(parts, fmt.Sprintf("%s=%d", sub, len(recs)))
			}
		}
		fmt.Fprintf(w, "  ✅ %-12s %s\n", c, strings.Join(parts, " "))
	}
}

func printAnswer(w io.Writer, ans session.Answer) {
	if ans.Result.Structured() {
		fmt.Fprintln(w, ans.Text)
		if ans.Explanation != "" {
			fmt.Fprintf(w, "\n## Explanation\n\n%s\n", ans.Explanation)
		}
		return
	}
	if !ans.Answered {
		fmt.Fprintln(w, "No answer from the model. See the diagnostic above.")
		return
	}
	fmt.Fprintln(w, ans.Text)
}

func printModels(w io.Writer, models []llm.Model) {
	if len(models) == 0 {
		fmt.Fprintln(w, "No models available.")
		return
	}
	for _, m := range models {
		verified := ""
		if !m.Verified {
			verified = " (unverified)"
		}
		fmt.Fprintf(w, "%-60s %-18s %-10s %s%s\n", m.ID, m.Provider, m.Status, m.Name, verified)
	}
}

func printSnapshots(w io.Writer, infos []storage.SnapshotInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No snapshots stored.")
		return
	}
	for _, info := range infos {
		failed := ""
		if len(info.Failed) > 0 {
			failed = fmt.Sprintf(" failed=%v", info.Failed)
		}
		fmt.Fprintf(w, "%6d  %s  %-12s %-10s records=%d%s\n",
			info.Revision, info.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			info.Profile, info.Region, info.Records, failed)
	}
}

// openOutput returns stdout for "" and "-", otherwise a new file.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

// exportInventory writes set as JSON, YAML or a markdown summary.
func exportInventory(w io.Writer, set inventory.RawResourceSet, format analyzer.ExportFormat) error {
	var out []byte
	var err error
	switch format {
	case analyzer.FormatJSON:
		out, err = analyzer.ExportJSON(set)
	case analyzer.FormatYAML:
		out, err = analyzer.ExportYAML(set)
	case analyzer.FormatMarkdown:
		out = []byte(set.Summary() + "\n")
	default:
		return fmt.Errorf("inventory export supports json, yaml and markdown, not %s", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// exportGeneral writes a model answer. It has no tabular form.
func exportGeneral(w io.Writer, ans session.Answer, format analyzer.ExportFormat) error {
	var out []byte
	var err error
	switch format {
	case analyzer.FormatJSON:
		out, err = analyzer.ExportJSON(ans)
	case analyzer.FormatYAML:
		out, err = analyzer.ExportYAML(ans)
	case analyzer.FormatMarkdown:
		out = []byte(fmt.Sprintf("# %s\n\n%s\n", ans.Question, ans.Text))
	default:
		return analyzer.ErrCSVUnsupported
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// exportValue writes insights or any JSON-safe value.
func exportValue(w io.Writer, v any, format analyzer.ExportFormat) error {
	var out []byte
	var err error
	switch format {
	case analyzer.FormatJSON:
		out, err = analyzer.ExportJSON(v)
	case analyzer.FormatYAML:
		out, err = analyzer.ExportYAML(v)
	case analyzer.FormatMarkdown:
		insights, ok := v.([]analyzer.Insight)
		if !ok {
			return fmt.Errorf("markdown export is not available for %T", v)
		}
		out = []byte(formatInsights(insights))
	default:
		return fmt.Errorf("%s export is not available here", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func formatInsights(insights []analyzer.Insight) string {
	var b strings.Builder
	b.WriteString("# Resource Insights\n")
	var current inventory.Category
	for _, in := range insights {
		if in.Category != current {
			current = in.Category
			fmt.Fprintf(&b, "\n## %s\n\n", current)
		}
		fmt.Fprintf(&b, "- %s\n", in.Summary)
		for _, r := range in.Recommendations {
			fmt.Fprintf(&b, "  - 💡 %s\n", r)
		}
	}
	return b.String()
}
