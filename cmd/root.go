// Package cmd implements the marketsync command-line interface.
package cmd

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every subcommand
type rootOptions struct {
	configFile string
	logLevel   string
	debug      bool
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "marketsync",
		Short:         "Market data scheduling and synchronization",
		Long:          `Keeps symbol metadata, daily bars and technical indicators in sync with the market data provider on a fixed schedule.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", os.Getenv("MARKETSYNC_CONFIG"), "YAML config file (optional)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug mode")

	root.AddCommand(
		newStartCommand(opts),
		newRunCommand(opts),
		newStatusCommand(opts),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	return NewRootCommand().ExecuteContext(context.Background())
}
