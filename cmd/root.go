// Package cmd wires the repomigrate command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/repomigrate/cmd/reconcile"
	"github.com/tphakala/repomigrate/cmd/repo"
	"github.com/tphakala/repomigrate/cmd/serve"
	"github.com/tphakala/repomigrate/cmd/task"
	"github.com/tphakala/repomigrate/internal/buildinfo"
	"github.com/tphakala/repomigrate/internal/conf"
)

// RootCommand creates and returns the root command. Settings are loaded
// into settings before any subcommand runs.
func RootCommand(settings *conf.Settings, info *buildinfo.Info) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "repomigrate",
		Short:        "Repository storage migration engine",
		Long:         "repomigrate moves repository blobs between storage credential sets while the repository keeps serving writes.",
		SilenceUsage: true,
	}

	if err := setupFlags(rootCmd, settings, &configFile); err != nil {
		panic(err)
	}

	versionCmd := versionCommand(info)
	subcommands := []*cobra.Command{
		serve.Command(settings, info),
		task.Command(settings, info),
		repo.Command(settings, info),
		reconcile.Command(settings, info),
		versionCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version works without a config file
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/repomigrate, /etc/repomigrate)")
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func versionCommand(info *buildinfo.Info) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "repomigrate %s (built %s)\n", info.Version(), info.BuildDate())
		},
	}
}
