package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"mailtriage/internal/config"
	"mailtriage/internal/logging"
	"mailtriage/internal/notify"
	"mailtriage/internal/pipeline"
	"mailtriage/internal/store"
)

// Exit codes: 0 success, 1 partial or runtime failure, 2 configuration
// or schema failure.
const (
	exitOK      = 0
	exitPartial = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		configPath string
		days       int
		date       string
	)

	root := &cobra.Command{
		Use:           "mailtriage",
		Short:         "Read-only email triage: fetch, classify and report on recent mail",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Process reporting windows and write report artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), configPath, func(ctx context.Context, r *pipeline.Runner) error {
				return r.Run(ctx, days, date)
			})
		},
	}
	runCmd.Flags().IntVar(&days, "days", 1, "number of rolling windows ending today")
	runCmd.Flags().StringVar(&date, "date", "", "process the single window for this local date (YYYY-MM-DD)")
	runCmd.MarkFlagsMutuallyExclusive("days", "date")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Check for unreplied threads and send desktop notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), configPath, func(ctx context.Context, r *pipeline.Runner) error {
				return r.Watch(ctx)
			})
		},
	}

	root.AddCommand(runCmd, watchCmd)
	root.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logging.Log.WithField("error", err).Error("Run failed")
		return exitCode(err)
	}
	return exitOK
}

// withRunner loads config, opens the state store next to the report
// tree and hands a wired Runner to fn.
func withRunner(ctx context.Context, configPath string, fn func(context.Context, *pipeline.Runner) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Output.Root, 0o755); err != nil {
		return err
	}

	st, err := store.Open(filepath.Join(cfg.Output.Root, "state.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	runner := &pipeline.Runner{
		Config:   cfg,
		Store:    st,
		Notifier: notify.Desktop{},
	}
	return fn(ctx, runner)
}

func exitCode(err error) int {
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) || store.IsSchemaError(err) {
		return exitConfig
	}
	return exitPartial
}
