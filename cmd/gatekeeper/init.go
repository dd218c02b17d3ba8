package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/adrianpk/gatekeeper/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var initLocal bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Creates ~/.config/gatekeeper/config.yml, or with --local a project
.gatekeeper.yml together with an editable copy of the built-in policy.
Existing files are left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.RunInit(cmd.OutOrStdout(), initLocal)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gatekeeper version %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  Go version: %s\n", runtime.Version())
		fmt.Fprintf(cmd.OutOrStdout(), "  Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	initCmd.Flags().BoolVar(&initLocal, "local", false, "Create the config in the current directory")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
