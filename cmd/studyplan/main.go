package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/studyplan/internal/config"
	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/studyplan"
)

const version = "0.3.0"

// app carries what the subcommands share once the root command has run.
type app struct {
	cfg    *config.Config
	svc    *studyplan.Service
	logger zerolog.Logger
	stderr io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stderr: stderr, logger: zerolog.Nop()}
	rootCmd := newRootCommand(a)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	a.shutdown()
	if err != nil {
		var secrets []string
		if a.cfg != nil {
			secrets = a.cfg.Secrets()
		}
		fmt.Fprintln(stderr, "error:", perrors.Redact(err.Error(), secrets...))
		return 1
	}
	return 0
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "studyplan",
		Short: "Turn a learning goal into a linked set of Markdown study units",
		Long: `studyplan scaffolds a learning plan for a topic, fills every unit with
resources and practice tasks, and writes a table of contents plus one Markdown
file per unit under STUDYPLAN_PROJECTS_ROOT. Progress lives in state.json.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	rootCmd.AddCommand(newNewCommand(a))
	rootCmd.AddCommand(newPlanCommand(a))
	rootCmd.AddCommand(newUnitCommand(a))
	rootCmd.AddCommand(newSyncCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newRollbackCommand(a))
	rootCmd.AddCommand(newListCommand(a))
	return rootCmd
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cfg, a.stderr)

	svc, err := studyplan.New(cfg, a.logger)
	if err != nil {
		return err
	}
	a.svc = svc
	return nil
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.Development() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	return logger
}

// shutdown flushes metrics and closes the catalog. Failures only log.
func (a *app) shutdown() {
	if a.svc == nil {
		return
	}
	if err := a.svc.Metrics().WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		a.logger.Warn().Err(err).Str("path", a.cfg.MetricsTextfile).Msg("failed to write metrics textfile")
	}
	if err := a.svc.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close catalog")
	}
}
