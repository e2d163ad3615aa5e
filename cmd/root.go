// Package cmd wires the retrace CLI: the serve daemon plus query and
// maintenance subcommands.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagVerbose bool
)

// Execute runs the root command.
func Execute() {
	root := &cobra.Command{
		Use:   "retrace",
		Short: "retrace: searchable memory for everything on your screen",
		Long: "retrace ingests screen-capture events from a capture service and builds\n" +
			"a durable, dually-indexed memory store: keyword search is available the\n" +
			"moment a record lands, semantic search follows as embeddings catch up.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default ~/.retrace/config.yaml)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(recentCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogging() {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
