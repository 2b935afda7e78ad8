package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var shellMetricsAddr string

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive question session",
	Long: `Start an interactive session. Collected inventory and the model list are
kept for the whole session, so follow-up questions reuse them. Type a
question, or :help for session commands.

While the shell runs, Prometheus metrics (collection, queries, model
invocations, inventory gauges) are served on the metrics address.`,
	Example: `  skyquery shell
  skyquery shell --metrics-addr :9191
  skyquery shell --metrics-addr ""     # No metrics server`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)

	shellCmd.Flags().StringVar(&shellMetricsAddr, "metrics-addr", "", "Metrics server address (default from config)")
}

func runShell(cmd *cobra.Command, _ []string) error {
	addr := cfg.Metrics.Addr
	if cmd.Flags().Changed("metrics-addr") {
		addr = shellMetricsAddr
	}

	return withApp(cmd, appOptions{prometheus: true}, func(ctx context.Context, a *app) error {
		var g run.Group

		g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

		if addr != "" {
			srv := newMetricsServer(addr)
			g.Add(func() error {
				log.Info().Str("addr", addr).Msg("starting metrics server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			}, func(error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			})
		}

		replCtx, cancel := context.WithCancel(ctx)
		r := &repl{
			session:  a.session,
			store:    a.store,
			profiles: a.profiles,
			models:   a.models,
			selfTest: a.adapter.SelfTest,
			in:       cmd.InOrStdin(),
			out:      cmd.OutOrStdout(),
		}
		g.Add(func() error {
			return r.run(replCtx)
		}, func(error) {
			cancel()
		})

		err := g.Run()
		var sig run.SignalError
		if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) || errors.As(err, &sig) {
			return nil
		}
		return err
	})
}
