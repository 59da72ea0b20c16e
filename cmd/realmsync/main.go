package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(afero.NewOsFs())
	err := newRootCmd(a).ExecuteContext(ctx)
	// PersistentPostRunE is skipped when a command fails.
	_ = a.close(context.WithoutCancel(ctx))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "realmsync",
		Short:         "Drive a realm sync engine from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.Root().PersistentFlags())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "Configuration file (default ~/.config/realmsync/config.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Development logging")
	flags.String("base-path", "", "Directory realm files are stored under")
	flags.String("persistence", "", "Metadata persistence mode: disabled, not_encrypted or encrypted")
	flags.Bool("reset-metadata", false, "Reset sync metadata if it cannot be opened")
	flags.String("engine", "", "Sync engine: loopback or wasm")
	flags.String("module", "", "Engine module file for the wasm engine")
	flags.Int("workers", 0, "Completion workers of the loopback engine")
	flags.String("log-level", "", "Engine log level")

	rootCmd.AddCommand(
		newConfigureCmd(a),
		newDownloadCmd(a),
		newPathCmd(a),
		newLogLevelCmd(a),
		newReconnectCmd(a),
		newFileActionsCmd(a),
	)
	return rootCmd
}
