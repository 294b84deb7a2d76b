// Command conductor is the CLI host for the Conductor engine: it runs
// the worker process and offers one-shot commands for enqueueing,
// inspecting, and retrying jobs and pipelines against a shared data
// directory.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/engine"
	"github.com/kaneko-ai/conductor/journal"
	"github.com/kaneko-ai/conductor/observability"
	"github.com/kaneko-ai/conductor/store/file"
)

var (
	flagDataDir      string
	flagTaskCmd      string
	flagPollInterval time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "conductor",
		Short:         "Durable single-worker job queue and pipeline engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", conductor.DefaultConfig().DataDir, "state store directory")
	root.PersistentFlags().StringVar(&flagTaskCmd, "task-cmd", "conductor-task", "executable invoked per task")
	root.PersistentFlags().DurationVar(&flagPollInterval, "poll-interval", conductor.DefaultConfig().PollInterval, "worker poll interval")

	root.AddCommand(
		newWorkerCmd(),
		newEnqueueCmd(),
		newJobsCmd(),
		newCancelCmd(),
		newRetryCmd(),
		newClearCmd(),
		newPipelineCmd(),
		newTemplatesCmd(),
		newSettingsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildEngine opens the file store and wires an engine over it. The
// caller owns the store and must close it.
func buildEngine() (*engine.Engine, *file.Store, error) {
	st, err := file.Open(flagDataDir)
	if err != nil {
		return nil, nil, err
	}

	cfg := conductor.DefaultConfig()
	cfg.DataDir = flagDataDir
	cfg.PollInterval = flagPollInterval

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	recorder, err := journal.NewFileRecorder(filepath.Join(flagDataDir, "journal.log"))
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	eng, err := engine.New(cfg, st, NewExecRunner(flagTaskCmd),
		engine.WithLogger(logger),
		engine.WithHook(observability.NewMetricsHook()),
		engine.WithHook(journal.New(recorder, journal.WithLogger(logger))),
	)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return eng, st, nil
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the worker and auto-retry scheduler until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			if err := eng.Start(ctx); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			return eng.Stop(context.Background())
		},
	}
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the template catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, st, err := buildEngine()
			if err != nil {
				return err
			}
			defer st.Close()

			for _, t := range eng.Templates().List() {
				state := "enabled"
				if !t.Enabled {
					state = "disabled (" + t.DisabledReason + ")"
				}
				fmt.Printf("%-10s %-20s %s\n", t.ID, state, t.Description)
			}
			return nil
		},
	}
}
