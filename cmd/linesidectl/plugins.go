package main

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	goversion "github.com/hashicorp/go-version"
	"github.com/spf13/cobra"

	"github.com/darkden-lab/lineside/internal/plugin"
)

type pluginList struct {
	Plugins []struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Version   string    `json:"version"`
		EntryType string    `json:"entryType"`
		UI        bool      `json:"ui"`
		LoadedAt  time.Time `json:"loadedAt"`
	} `json:"plugins"`
	Skipped  []plugin.Skip `json:"skipped"`
	LoadedAt time.Time     `json:"loadedAt"`
}

func newPluginsCmd(api func() *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and reload plugins",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List loaded and skipped plugins",
			RunE: func(cmd *cobra.Command, args []string) error {
				var list pluginList
				if err := api().get(cmd.Context(), "/api/plugins", nil, &list); err != nil {
					return err
				}
				printPlugins(cmd.OutOrStdout(), list)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reload",
			Short: "Run a new load pass on the server",
			RunE: func(cmd *cobra.Command, args []string) error {
				var list pluginList
				if err := api().post(cmd.Context(), "/api/plugins/reload", &list); err != nil {
					return err
				}
				printPlugins(cmd.OutOrStdout(), list)
				return nil
			},
		},
		&cobra.Command{
			Use:   "check <plugins-dir>",
			Short: "Validate the plugin manifests in a folder without a server",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				logger := slog.New(slog.NewTextHandler(io.Discard, nil))
				manifests, skipped := plugin.CheckFolder(args[0], logger)

				out := cmd.OutOrStdout()
				ok, warn, fail := color.GreenString("ok  "), color.YellowString("WARN"), color.RedString("FAIL")
				for _, m := range manifests {
					fmt.Fprintf(out, "%s  %s %s (%s)\n", ok, m.ID, m.Version, m.EntryType)
					if _, err := goversion.NewVersion(m.Version); err != nil {
						fmt.Fprintf(out, "%s  %s: version %q is not a semantic version\n", warn, m.ID, m.Version)
					}
				}
				for _, s := range skipped {
					fmt.Fprintf(out, "%s  %s: %s\n", fail, s.Folder, s.Reason)
				}
				if len(skipped) > 0 {
					return fmt.Errorf("%d plugin folder(s) failed validation", len(skipped))
				}
				if len(manifests) == 0 {
					fmt.Fprintln(out, "No plugins found.")
				}
				return nil
			},
		},
	)
	return cmd
}

func printPlugins(w io.Writer, list pluginList) {
	if len(list.Plugins) == 0 && len(list.Skipped) == 0 {
		fmt.Fprintln(w, "No plugins loaded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVERSION\tUI\tENTRY")
	for _, p := range list.Plugins {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", p.ID, p.Name, p.Version, p.UI, p.EntryType)
	}
	tw.Flush() //nolint:errcheck

	if len(list.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped:\n")
		for _, s := range list.Skipped {
			id := s.PluginID
			if id == "" {
				id = "-"
			}
			fmt.Fprintf(w, "  %s [%s] %s: %s\n", id, s.Stage, s.Folder, s.Reason)
		}
	}
}
