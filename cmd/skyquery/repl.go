package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yairfalse/skyquery/internal/analyzer"
	"github.com/yairfalse/skyquery/internal/classifier"
	"github.com/yairfalse/skyquery/internal/llm"
	"github.com/yairfalse/skyquery/internal/provider"
	"github.com/yairfalse/skyquery/internal/session"
	"github.com/yairfalse/skyquery/internal/storage"
)

// errQuit ends the shell.
var errQuit = errors.New("quit")

const shellHelp = `Type a question, or one of:
  :collect [categories]   collect categories (default EC2, S3, Lambda; "all" for every one)
  :load <revision>        load a stored snapshot
  :snapshots              list stored snapshots
  :explain <question>     answer and ask the model to explain a structured result
  :refresh <question>     collect again before answering
  :insights               per-resource summaries and recommendations
  :suggest                example questions for the collected categories
  :models [refresh]       list available models
  :model [id]             show or switch the model
  :test                   send a test prompt to the model
  :profiles               list credential profiles
  :profile <name>         switch profile (drops collected data)
  :clear                  drop collected data and the model list
  :quit                   leave the shell`

// repl reads questions and session commands, one line at a time.
type repl struct {
	session  *session.Session
	store    storage.SnapshotReader
	profiles provider.ProfileResolver
	models   func(ctx context.Context, refresh bool) ([]llm.Model, error)
	selfTest func(ctx context.Context, modelID string) (bool, string)
	in       io.Reader
	out      io.Writer
}

// run handles lines until EOF, :quit or cancellation.
func (r *repl) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(r.out, "Skyquery shell. Type :help for commands.")
	r.prompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := r.handle(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Fprintf(r.out, "Error: %v\n", err)
			}
			r.prompt()
		}
	}
}

func (r *repl) prompt() {
	fmt.Fprintf(r.out, "skyquery [%s] > ", r.session.Profile())
}

// handle runs one input line.
func (r *repl) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, ":") {
		printAnswer(r.out, r.session.Ask(ctx, line, session.AskOptions{}))
		return nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "quit", "exit", "q":
		return errQuit
	case "help", "h":
		fmt.Fprintln(r.out, shellHelp)
	case "collect":
		cats := classifier.DefaultCategories
		if rest != "" {
			cats = parseCategories(r.out, strings.Fields(rest))
		}
		res := r.session.Collect(ctx, cats)
		printCollect(r.out, res, r.session.Data())
	case "load":
		rev, err := parseRevision(rest)
		if err != nil {
			return err
		}
		if err := r.session.LoadSnapshot(rev); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Loaded snapshot %d\n", rev)
		printSetSummary(r.out, r.session.Data())
	case "snapshots":
		if r.store == nil {
			return fmt.Errorf("no snapshot storage configured")
		}
		printSnapshots(r.out, r.store.List())
	case "explain", "refresh":
		if rest == "" {
			return fmt.Errorf(":%s needs a question", name)
		}
		opts := session.AskOptions{Explain: name == "explain", Refresh: name == "refresh"}
		printAnswer(r.out, r.session.Ask(ctx, rest, opts))
	case "insights":
		if r.session.Data() == nil {
			return fmt.Errorf("nothing collected yet; try :collect")
		}
		fmt.Fprint(r.out, formatInsights(analyzer.Insights(r.session.Data())))
	case "suggest":
		for _, s := range classifier.Suggestions(r.session.Data().Categories()) {
			fmt.Fprintf(r.out, "  • %s\n", s)
		}
	case "models":
		models, err := r.models(ctx, rest == "refresh")
		if err != nil {
			return err
		}
		printModels(r.out, models)
	case "model":
		if rest != "" {
			r.session.SetModelID(rest)
		}
		fmt.Fprintf(r.out, "Model: %s (%s)\n", r.session.ModelID(), llm.DetectFamily(r.session.ModelID()))
	case "test":
		ok, raw := r.selfTest(ctx, r.session.ModelID())
		if !ok {
			return fmt.Errorf("model %s failed the connection test", r.session.ModelID())
		}
		fmt.Fprintf(r.out, "✅ %s\n", raw)
	case "profiles":
		for _, p := range r.profiles.ListProfiles() {
			fmt.Fprintf(r.out, "  %s\n", p)
		}
	case "profile":
		if rest == "" {
			return fmt.Errorf(":profile needs a name")
		}
		r.session.SetProfile(rest)
		fmt.Fprintf(r.out, "Switched to profile %s\n", rest)
	case "clear":
		r.session.Clear()
		fmt.Fprintln(r.out, "Cleared collected data and model list")
	default:
		return fmt.Errorf("unknown command :%s (try :help)", name)
	}
	return nil
}
