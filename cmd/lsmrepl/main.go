package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "lsmrepl",
		Short:         "Replicated key-value store with master/slave log shipping",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config")

	root.AddCommand(
		newRunCmd(&configPath),
		newDBCmd(),
		newPutCmd(),
		newGetCmd(),
		newScanCmd(),
		newBenchCmd(),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a participant (master or slave, per config)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := initConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(&cfg)
			return runNode(cmd.Context(), cfg)
		},
	}
}
