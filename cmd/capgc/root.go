package main

import (
	"github.com/spf13/cobra"

	"github.com/iansmith/capgc/internal/rtconfig"
	"github.com/iansmith/capgc/internal/rtlog"
)

var cfg rtconfig.Config

func newRootCmd() *cobra.Command {
	logLevel := newLogLevelFlag()

	root := &cobra.Command{
		Use:   "capgc",
		Short: "Drive the capgc concurrent GC runtime from the command line",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = rtconfig.FromEnviron()
			rtlog.ConfigureLevel(cfg.LogToFile, cfg.LogFilePath, logLevel.level)
			return nil
		},
	}
	root.PersistentFlags().Var(logLevel, "log-level", "minimum log level (debug, info, warn, error)")

	root.AddCommand(newGCCmd())
	root.AddCommand(newHeapCmd())
	root.AddCommand(newScenarioCmd())
	return root
}
