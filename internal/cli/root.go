// Package cli implements the stream-cli commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/stream-go/internal/core"
)

// Opener builds the application for one command run and returns the function
// that releases it.
type Opener func() (*core.App, func(), error)

// DefaultOpener loads the configuration from the working directory.
func DefaultOpener(version string) Opener {
	return func() (*core.App, func(), error) {
		app, err := core.New(version)
		if err != nil {
			return nil, nil, err
		}
		return app, app.Close, nil
	}
}

// NewRootCmd returns the root command with every subcommand attached.
func NewRootCmd(version string, open Opener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stream-cli",
		Short: "Manage plugin repositories and installed plugins",
		Long: `Command line interface for the plugin host.

It works directly on the configured data directory and database, so it can
be used while the server is stopped.

Examples:
  # Add a repository by url or shortcode
  stream-cli repo add https://example.com/repo.json
  stream-cli repo add mycode

  # Install every plugin of a repository
  stream-cli plugin install-all <repository-id>

  # Update installed plugins
  stream-cli plugin update`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		ResolveCmd(open),
		RepoCmd(open),
		PluginCmd(open),
		CleanupCmd(open),
	)
	return rootCmd
}

// withApp opens the application around f.
func withApp(open Opener, f func(app *core.App) error) error {
	app, release, err := open()
	if err != nil {
		return err
	}
	defer release()
	return f(app)
}

// ResolveCmd returns the resolve command.
func ResolveCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <ref>",
		Short: "Resolve a repository reference to its url",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(app *core.App) error {
				url, err := app.Resolver.Resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	}
}

// CleanupCmd returns the cleanup command.
func CleanupCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete leftover temporary plugin archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(app *core.App) error {
				removed, err := app.Installer.CleanupTempArchives()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d archive(s).\n", removed)
				return nil
			})
		},
	}
}
