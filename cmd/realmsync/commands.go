package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/realm-sync-bridge/config"
	"github.com/wippyai/realm-sync-bridge/native"
)

func newConfigureCmd(a *app) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Apply the file system configuration to the engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			fsCfg := a.cfg.FileSystem
			if err := fsCfg.Prepare(a.fs); err != nil {
				return fmt.Errorf("create base path: %w", err)
			}
			nc, err := fsCfg.ToNative(nil)
			if err != nil {
				return err
			}
			m, err := a.open(ctx)
			if err != nil {
				return err
			}
			if err := m.Configure(ctx, nc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configured %s\n", nc.BasePath)

			if save {
				path := a.configFile
				if path == "" {
					path = config.DefaultFile()
				}
				if err := config.Save(a.fs, path, a.cfg); err != nil {
					return fmt.Errorf("save configuration: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Write the effective configuration file")
	return cmd
}

func newPathCmd(a *app) *cobra.Command {
	var user, url string
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the local file path of a synchronized realm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			p, err := m.GetPathForRealm(cmd.Context(), user, url)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User identity")
	cmd.Flags().StringVar(&url, "url", "", "Realm URL")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newLogLevelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "log-level [level]",
		Short: "Print or set the engine log level",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := a.open(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				level, err := native.ParseLogLevel(args[0])
				if err != nil {
					return err
				}
				if err := m.SetLogLevel(ctx, level); err != nil {
					return err
				}
			}
			level, err := m.LogLevel(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), level)
			return nil
		},
	}
}

func newReconnectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect",
		Short: "Ask every session to reconnect now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			return m.ReconnectSessions(cmd.Context())
		},
	}
}

func newFileActionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file-actions",
		Short: "Run or cancel pending client reset file actions",
	}
	run := &cobra.Command{
		Use:   "run <path>",
		Short: "Run the pending file action for a realm path now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := m.ImmediatelyRunFileActions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printAction(cmd, "ran", args[0], ok)
			return nil
		},
	}
	cancel := &cobra.Command{
		Use:   "cancel <path>",
		Short: "Drop the pending file action for a realm path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := m.CancelPendingFileActions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printAction(cmd, "cancelled", args[0], ok)
			return nil
		},
	}
	cmd.AddCommand(run, cancel)
	return cmd
}

func printAction(cmd *cobra.Command, verb, path string, ok bool) {
	if ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s file action for %s\n", verb, path)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "no file action pending for %s\n", path)
}
