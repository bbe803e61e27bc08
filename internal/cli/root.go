package cli

import (
	"github.com/spf13/cobra"
	log "github.com/sirupsen/logrus"

	"prism-board/config"
)

// RootOptions holds global flags and the configuration resolved from them.
type RootOptions struct {
	ConfigPath string
	Debug      bool

	Config config.Config
	Logger *log.Logger
}

// NewRootCommand creates the prism-board command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "prism-board",
		Short:         "Kanban board server and sync client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = opts.Debug
			}
			opts.Config = cfg
			opts.Logger = log.New()
			opts.Logger.SetOutput(cmd.ErrOrStderr())
			if cfg.Debug {
				opts.Logger.SetLevel(log.DebugLevel)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file (default $"+config.FileEnv+")")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewInitStorageCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewMoveCommand(opts))
	cmd.AddCommand(NewMoveListCommand(opts))

	return cmd
}
