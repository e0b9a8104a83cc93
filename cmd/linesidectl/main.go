package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var server string

	rootCmd := &cobra.Command{
		Use:   "linesidectl",
		Short: "CLI for the lineside document host",
		Long: `linesidectl talks to a running lineside server: it uploads document versions,
shows folder status, manages plugins and looks up work orders. "plugins check"
works offline against a plugin folder.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "lineside server URL (default $LINESIDE_SERVER or http://localhost:8080)")

	api := func() *apiClient { return newAPIClient(resolveServer(server)) }

	rootCmd.AddCommand(
		newPluginsCmd(api),
		newStatusCmd(api),
		newUploadCmd(api),
		newOpenCmd(func() string { return resolveServer(server) }),
		newWorkOrdersCmd(api),
		newVersionCmd(),
	)
	return rootCmd
}

func resolveServer(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("LINESIDE_SERVER"); env != "" {
		return env
	}
	return "http://localhost:8080"
}
