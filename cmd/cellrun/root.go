package main

import (
	"fmt"

	"cellrun/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg    Config
	logger *zap.Logger
}

func newRootCmd(cfg Config) *cobra.Command {
	a := &app{cfg: cfg}

	root := &cobra.Command{
		Use:   "cellrun",
		Short: "Run python blocks of a notes page on a Jupyter server",
		Long: `cellrun sends the python block of a note to a Jupyter kernel and writes
the output back into the page as a new block. It works on a markdown page
file directly (run) or as the backend of an editor plugin (serve).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(a.cfg.LogLevel, a.cfg.Development)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.BoolVar(&a.cfg.Development, "dev", cfg.Development, "Human-readable development logging")
	flags.StringVar(&a.cfg.SettingsPath, "settings", cfg.SettingsPath, "Plugin settings YAML file")
	flags.StringVar(&a.cfg.KernelName, "kernel", cfg.KernelName, "Kernelspec to start")

	root.AddCommand(newRunCmd(a), newServeCmd(a), newSchemaCmd())

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\n\n%s", err, cmd.UsageString())
	})
	return root
}
