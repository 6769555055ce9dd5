package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/stream-go/internal/core"
	"github.com/vrsandeep/stream-go/internal/models"
)

// RepoCmd returns the repo command group.
func RepoCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage plugin repositories",
	}
	cmd.AddCommand(repoAddCmd(open), repoListCmd(open), repoPluginsCmd(open), repoRemoveCmd(open))
	return cmd
}

func repoAddCmd(open Opener) *cobra.Command {
	var (
		name      string
		shortcode string
		disabled  bool
	)
	cmd := &cobra.Command{
		Use:   "add <ref>",
		Short: "Add a repository by url, shortcode or custom-scheme link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(app *core.App) error {
				enabled := !disabled
				repo, err := app.Installer.AddRepository(cmd.Context(), models.RepositoryAddRequest{
					URL:       args[0],
					Shortcode: shortcode,
					Name:      name,
					Enabled:   &enabled,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", repo.Name, repo.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "URL: %s\n", repo.URL)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name, defaults to the repository's own")
	cmd.Flags().StringVar(&shortcode, "shortcode", "", "Shortcode to remember for the repository")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Add the repository without enabling auto updates")
	return cmd
}

func repoListCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(app *core.App) error {
				repos, err := app.Installer.Repositories()
				if err != nil {
					return err
				}
				if len(repos) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No repositories.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-20s %-8s %s\n", "ID", "NAME", "ENABLED", "URL")
				fmt.Fprintln(cmd.OutOrStdout(), strings.Repeat("-", 100))
				for _, r := range repos {
					fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-20s %-8t %s\n", r.ID, truncate(r.Name, 20), r.Enabled, r.URL)
				}
				return nil
			})
		},
	}
}

func repoPluginsCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins <id>",
		Short: "List the plugins a repository offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(app *core.App) error {
				resp, err := app.Installer.RepositoryPlugins(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Repository: %s\n", resp.Repository.Name)
				fmt.Fprintf(cmd.OutOrStdout(), "Plugins: %d\n\n", len(resp.Plugins))
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-8s %-10s %s\n", "PLUGIN", "VERSION", "INSTALLED", "STATUS")
				fmt.Fprintln(cmd.OutOrStdout(), strings.Repeat("-", 60))
				for _, p := range resp.Plugins {
					installed := "-"
					if p.InstalledVersion != nil {
						installed = fmt.Sprint(*p.InstalledVersion)
					}
					status := "ok"
					switch {
					case p.Status == 0:
						status = "disabled"
					case p.CanUpdate:
						status = "update available"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-8d %-10s %s\n", truncate(p.InternalName, 24), p.Version, installed, status)
				}
				return nil
			})
		},
	}
}

func repoRemoveCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a repository and every plugin installed from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(app *core.App) error {
				result, err := app.Installer.RemoveRepository(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed repository and %d plugin(s).\n", result.Removed)
				return nil
			})
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
