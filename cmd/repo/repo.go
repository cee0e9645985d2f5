// Package repo provides commands to register and inspect repository write targets.
package repo

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/repomigrate/internal/app"
	"github.com/tphakala/repomigrate/internal/buildinfo"
	"github.com/tphakala/repomigrate/internal/conf"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
)

// Command creates and returns the repo command group
func Command(settings *conf.Settings, info *buildinfo.Info) *cobra.Command {
	var project, name, key string

	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Register and inspect repository write targets",
	}
	cmd.PersistentFlags().StringVar(&project, "project", "", "Project id")
	cmd.PersistentFlags().StringVar(&name, "name", "", "Repository name")
	_ = cmd.MarkPersistentFlagRequired("project")
	_ = cmd.MarkPersistentFlagRequired("name")

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a repository writing to a storage key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Bootstrap(settings, info)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if !rt.Storage.Has(key) {
				return fmt.Errorf("unknown storage key %q", key)
			}
			repository := &entities.Repository{ProjectID: project, Name: name}
			if key != "" {
				repository.StorageKey = &key
			}
			if err := rt.Stores.Repositories.Create(cmd.Context(), repository); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s writing to %s\n",
				entities.RepoKey(project, name), entities.KeyToMarker(key))
			return nil
		},
	}
	addCmd.Flags().StringVar(&key, "key", "", "Storage key, empty for the default credential set")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a repository's active and previous storage keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Bootstrap(settings, info)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			repository, err := rt.Stores.Repositories.Get(cmd.Context(), project, name)
			if err != nil {
				return err
			}
			old := "-"
			if repository.OldStorageKey != nil {
				old = entities.KeyToMarker(*repository.OldStorageKey)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s active=%s previous=%s\n",
				entities.RepoKey(project, name), entities.KeyToMarker(repository.Key()), old)
			return nil
		},
	}

	cmd.AddCommand(addCmd, showCmd)
	return cmd
}
