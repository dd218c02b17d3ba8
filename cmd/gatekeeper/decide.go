package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adrianpk/gatekeeper/internal/diff"
	"github.com/adrianpk/gatekeeper/internal/engine"
)

var decideFlags struct {
	kind       string
	subject    string
	path       string
	beforeFile string
	afterFile  string
	cwd        string
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Decide a single action",
	Long: `Decides one action given on the command line and records it in the
audit log. Edits are described by a before and an after file; a missing
before file means the edit creates a new file.`,
	Example: `  gatekeeper decide --kind bash --subject "git status"
  gatekeeper decide --kind edit --path app.py --before-file old.py --after-file new.py`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := decideRequest()
		if err != nil {
			return err
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		eng, closeAudit := a.engine()
		defer closeAudit()

		d := eng.Decide(cmd.Context(), req)
		return render(cmd.OutOrStdout(), d, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "VERDICT\t%s\n", d.Verdict)
			if d.Reason != "" {
				fmt.Fprintf(tw, "REASON\t%s\n", d.Reason)
			}
			if d.MatchedRule != "" {
				fmt.Fprintf(tw, "RULE\t%s\n", d.MatchedRule)
			}
			if d.Classification != nil {
				fmt.Fprintf(tw, "EDIT\t%s\n", d.Classification)
			}
			if d.Gate != nil {
				fmt.Fprintf(tw, "GATE\t%s %s\n", d.Gate.Gate, d.Gate.Overall)
			}
			fmt.Fprintf(tw, "ID\t%s\n", d.ID)
		})
	},
}

func decideRequest() (engine.Request, error) {
	f := decideFlags
	if f.kind == "" {
		return engine.Request{}, fmt.Errorf("--kind is required")
	}

	req := engine.Request{Kind: engine.Kind(f.kind), Subject: f.subject, Dir: f.cwd}
	if req.Subject == "" {
		req.Subject = f.path
	}
	if req.Subject == "" {
		return engine.Request{}, fmt.Errorf("--subject or --path is required")
	}

	if f.afterFile != "" {
		before, after, err := readEditFiles(f.beforeFile, f.afterFile)
		if err != nil {
			return engine.Request{}, err
		}
		req.Edit = &diff.EditProposal{Path: req.Subject, Before: before, After: after}
	}
	return req, nil
}

// readEditFiles reads the edit texts. An empty or missing before file reads
// as empty content.
func readEditFiles(beforeFile, afterFile string) (string, string, error) {
	after, err := os.ReadFile(afterFile)
	if err != nil {
		return "", "", fmt.Errorf("read after file: %w", err)
	}
	if beforeFile == "" {
		return "", string(after), nil
	}
	before, err := os.ReadFile(beforeFile)
	if os.IsNotExist(err) {
		return "", string(after), nil
	}
	if err != nil {
		return "", "", fmt.Errorf("read before file: %w", err)
	}
	return string(before), string(after), nil
}

var classifyThreshold int

var classifyCmd = &cobra.Command{
	Use:   "classify <before-file> <after-file>",
	Short: "Classify an edit as trivial or substantive",
	Long: `Compares two versions of a file and reports whether the change is a
special case (pure deletion, type definition, rename) or how many
substantive lines it changes. Nothing is recorded.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		before, after, err := readEditFiles(args[0], args[1])
		if err != nil {
			return err
		}

		threshold := classifyThreshold
		if !cmd.Flags().Changed("threshold") {
			a, err := loadApp()
			if err != nil {
				return err
			}
			threshold = a.threshold()
		}

		v, err := diff.Classify(diff.EditProposal{Path: args[1], Before: before, After: after}, threshold)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), v, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "TRIVIAL\t%t\n", v.Trivial)
			if v.SpecialCased {
				fmt.Fprintf(tw, "SPECIAL CASE\t%s\n", v.Kind)
				return
			}
			fmt.Fprintf(tw, "SUBSTANTIVE LINES\t%d\n", v.SubstantiveLines)
			fmt.Fprintf(tw, "THRESHOLD\t%d\n", v.Threshold)
		})
	},
}

func init() {
	decideCmd.Flags().StringVar(&decideFlags.kind, "kind", "", "Action kind (bash, fetch, edit, write)")
	decideCmd.Flags().StringVar(&decideFlags.subject, "subject", "", "Command, URL or file path")
	decideCmd.Flags().StringVar(&decideFlags.path, "path", "", "File path of an edit (defaults the subject)")
	decideCmd.Flags().StringVar(&decideFlags.beforeFile, "before-file", "", "File holding the content before the edit")
	decideCmd.Flags().StringVar(&decideFlags.afterFile, "after-file", "", "File holding the content after the edit")
	decideCmd.Flags().StringVar(&decideFlags.cwd, "cwd", "", "Directory relative paths resolve against")

	classifyCmd.Flags().IntVar(&classifyThreshold, "threshold", 0, "Substantive line budget (default: from config or policy)")

	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(classifyCmd)
}
