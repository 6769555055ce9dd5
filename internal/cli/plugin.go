package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/stream-go/internal/core"
	"github.com/vrsandeep/stream-go/internal/models"
)

// PluginCmd returns the plugin command group.
func PluginCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage installed plugins",
	}
	cmd.AddCommand(pluginListCmd(open), pluginInstallCmd(open), pluginInstallAllCmd(open), pluginRemoveCmd(open), pluginUpdateCmd(open))
	return cmd
}

func printPlugins(cmd *cobra.Command, list []*models.PluginData) {
	fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-8s %-8s %-8s %s\n", "PLUGIN", "VERSION", "SOURCE", "ENABLED", "PATH")
	fmt.Fprintln(cmd.OutOrStdout(), strings.Repeat("-", 100))
	for _, p := range list {
		source, version := "local", "-"
		if p.IsOnline {
			source = "online"
		}
		if p.Version != models.PluginVersionNotSet {
			version = strconv.Itoa(p.Version)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-8s %-8s %-8t %s\n", truncate(p.InternalName, 24), version, source, p.Enabled, p.FilePath)
	}
}

func pluginListCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(app *core.App) error {
				list, err := app.Installer.Plugins()
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No plugins installed.")
					return nil
				}
				printPlugins(cmd, list)
				return nil
			})
		},
	}
}

func pluginInstallCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "install <repo> <internalName>",
		Short: "Install one plugin from a stored repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(app *core.App) error {
				repo, err := app.Installer.Repository(args[0])
				if err != nil {
					return err
				}
				data, err := app.Installer.InstallFromRepository(cmd.Context(), repo.URL, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Installed %s version %d to %s\n", data.InternalName, data.Version, data.FilePath)
				return nil
			})
		},
	}
}

func pluginInstallAllCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "install-all <repo>",
		Short: "Install every plugin of a stored repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(app *core.App) error {
				installed, err := app.Installer.InstallAll(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Installed %d plugin(s).\n", len(installed))
				if len(installed) > 0 {
					printPlugins(cmd, installed)
				}
				return nil
			})
		},
	}
}

func pluginRemoveCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <internalName|filePath>",
		Short: "Remove an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(app *core.App) error {
				req := models.PluginRemoveRequest{InternalName: args[0]}
				if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
					req = models.PluginRemoveRequest{FilePath: args[0]}
				}
				data, err := app.Installer.RemovePlugin(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", data.InternalName)
				return nil
			})
		},
	}
}

func pluginUpdateCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update online plugins from enabled repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(app *core.App) error {
				updated, err := app.Installer.AutoUpdate(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %d plugin(s).\n", len(updated))
				if len(updated) > 0 {
					printPlugins(cmd, updated)
				}
				return nil
			})
		},
	}
}
