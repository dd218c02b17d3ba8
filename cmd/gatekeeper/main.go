package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	output  string
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Permission decisions for agent tool calls",
	Long: `gatekeeper decides whether a tool call proposed by a coding agent is
allowed, denied, or handed to the user.

Core Commands:
  hook      Decide a PreToolUse event read from stdin
  decide    Decide a single action from flags
  classify  Classify an edit as trivial or substantive
  gate      Run or list verification gates
  policy    Check or show the policy
  audit     Verify or tail the decision log
  serve     Run the HTTP decision API`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .gatekeeper.yml or ~/.config/gatekeeper/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gatekeeper: %v\n", err)
		os.Exit(1)
	}
}
