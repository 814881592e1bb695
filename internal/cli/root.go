// Package cli provides the command-line interface for batchq.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/batch/config"
)

// Version is set at build time.
var Version = "0.1.0"

// app holds what the subcommands share once flags are parsed.
type app struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func() error
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "batchq",
		Short: "Queue, process and recover batches of file jobs",
		Long: `batchq scans input files, queues one job per file and processes them
with a bounded worker pool. Failed jobs are classified and retried with
backoff, and the queue is checkpointed so an interrupted run can be
recovered with 'batchq recover'.`,
		Version:            Version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(a.runCmd(), a.recoverCmd(), a.statusCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	logger, closeLog, err := config.SetupLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.closeLog = cfg, logger, closeLog
	return nil
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.closeLog == nil {
		return nil
	}
	return a.closeLog()
}
