package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/adrianpk/gatekeeper/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Check or show the policy",
}

// policySummary is the printable form of a loaded policy.
type policySummary struct {
	Source    string    `json:"source"`
	Hash      string    `json:"hash"`
	LoadedAt  time.Time `json:"loaded_at"`
	Match     string    `json:"match"`
	Threshold int       `json:"threshold"`
	Bash      int       `json:"bash_rules"`
	Fetch     int       `json:"fetch_rules"`
	Protected []string  `json:"protected"`
	Tests     []string  `json:"test_patterns"`
	Gates     []string  `json:"gates"`
}

func summarize(snap *policy.Snapshot) policySummary {
	p := snap.Policy
	s := policySummary{
		Source:    snap.Source,
		Hash:      snap.Hash,
		LoadedAt:  snap.LoadedAt,
		Match:     string(p.Match),
		Threshold: p.Threshold,
		Bash:      len(p.Bash),
		Fetch:     len(p.Fetch),
		Protected: p.Protected.Patterns(),
		Tests:     p.Tests.Patterns,
	}
	if s.Match == "" {
		s.Match = string(policy.MatchPartial)
	}
	for _, g := range p.Gates {
		s.Gates = append(s.Gates, g.Name)
	}
	return s
}

func printSummary(cmd *cobra.Command, s policySummary) error {
	return render(cmd.OutOrStdout(), s, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "SOURCE\t%s\n", s.Source)
		fmt.Fprintf(tw, "HASH\t%s\n", s.Hash)
		fmt.Fprintf(tw, "MATCH\t%s\n", s.Match)
		fmt.Fprintf(tw, "THRESHOLD\t%d\n", s.Threshold)
		fmt.Fprintf(tw, "BASH RULES\t%d\n", s.Bash)
		fmt.Fprintf(tw, "FETCH RULES\t%d\n", s.Fetch)
		fmt.Fprintf(tw, "PROTECTED\t%d\n", len(s.Protected))
		fmt.Fprintf(tw, "GATES\t%d\n", len(s.Gates))
	})
}

var policyCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a policy file",
	Long: `Parses and compiles a policy file without loading it. Without an argument
the configured policy file is checked. Exits with status 1 on errors.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			a, err := loadApp()
			if err != nil {
				return err
			}
			path = a.store.Path()
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		snap, err := policy.NewSnapshot(data, path)
		if err != nil {
			return err
		}
		return printSummary(cmd, summarize(snap))
	},
}

var (
	policyDump bool
	policyRaw  bool
)

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the loaded policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		snap, err := a.snapshot()
		if err != nil {
			return err
		}

		switch {
		case policyRaw:
			_, err := cmd.OutOrStdout().Write(snap.Raw)
			return err
		case policyDump:
			cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true, SortKeys: true}
			cfg.Fdump(cmd.OutOrStdout(), snap.Policy)
			return nil
		}
		return printSummary(cmd, summarize(snap))
	},
}

func init() {
	policyShowCmd.Flags().BoolVar(&policyDump, "dump", false, "Dump the compiled policy")
	policyShowCmd.Flags().BoolVar(&policyRaw, "raw", false, "Print the policy document as loaded")

	policyCmd.AddCommand(policyCheckCmd)
	policyCmd.AddCommand(policyShowCmd)
	rootCmd.AddCommand(policyCmd)
}
