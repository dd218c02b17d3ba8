package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adrianpk/gatekeeper/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify or tail the decision log",
}

type verifyReport struct {
	Entries int    `json:"entries"`
	Head    string `json:"head,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain of the decision log",
	Long:  `Recomputes every entry hash and link. Exits with status 1 when the chain is broken.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sink, err := openAuditSink()
		if err != nil {
			return err
		}
		defer sink.Close()

		entries, err := sink.List(cmd.Context(), 0)
		if err != nil {
			return err
		}

		report := verifyReport{Entries: len(entries), OK: true}
		if len(entries) > 0 {
			report.Head = entries[len(entries)-1].Hash
		}
		verr := audit.Verify(entries)
		if verr != nil {
			report.OK = false
			report.Error = verr.Error()
		}

		err = render(cmd.OutOrStdout(), report, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "ENTRIES\t%d\n", report.Entries)
			if report.Head != "" {
				fmt.Fprintf(tw, "HEAD\t%s\n", report.Head)
			}
			if report.OK {
				fmt.Fprintln(tw, "CHAIN\tok")
			} else {
				fmt.Fprintf(tw, "CHAIN\t%s\n", report.Error)
			}
		})
		if err != nil {
			return err
		}
		return verr
	},
}

var tailCount int

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent decisions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sink, err := openAuditSink()
		if err != nil {
			return err
		}
		defer sink.Close()

		entries, err := sink.List(cmd.Context(), tailCount)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []audit.Entry{}
		}

		return render(cmd.OutOrStdout(), entries, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "SEQ\tTIME\tKIND\tVERDICT\tSUBJECT\tRULE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					e.Seq, e.Time.Local().Format(time.DateTime), e.Kind, e.Verdict, truncate(e.Subject, 60), e.MatchedRule)
			}
		})
	},
}

func openAuditSink() (audit.Sink, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}
	return a.openSink()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	auditTailCmd.Flags().IntVarP(&tailCount, "lines", "n", 20, "Number of entries to show")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	rootCmd.AddCommand(auditCmd)
}
