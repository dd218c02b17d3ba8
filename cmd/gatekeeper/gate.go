package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adrianpk/gatekeeper/internal/gate"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Run or list verification gates",
}

var gateRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a gate's checks now",
	Long: `Runs the checks of the named gate in the project directory and reports
each result. Exits with status 1 when the gate fails. Nothing is recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		snap, err := a.snapshot()
		if err != nil {
			return err
		}
		g, ok := snap.Policy.Lookup(args[0])
		if !ok {
			return fmt.Errorf("no gate named %q", args[0])
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		run := a.runner().Run(ctx, g.Gate)
		err = render(cmd.OutOrStdout(), run, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "CHECK\tRESULT\tEXIT\tDURATION")
			for _, res := range run.Results {
				status := "pass"
				if !res.Passed {
					status = string(res.Failure)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", res.Name, status, res.ExitCode, res.Duration.Round(time.Millisecond))
			}
			fmt.Fprintf(tw, "\t%s\t\t\n", run.Overall)
			for _, w := range run.Warnings {
				fmt.Fprintf(tw, "warning:\t%s\t\t\n", w)
			}
		})
		if err != nil {
			return err
		}
		if run.Overall == gate.Fail {
			return run.Err()
		}
		return nil
	},
}

var gateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the gates defined by the policy",
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

		gates := make([]gate.Gate, 0, len(snap.Policy.Gates))
		for _, g := range snap.Policy.Gates {
			gates = append(gates, g.Gate)
		}
		return render(cmd.OutOrStdout(), gates, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "NAME\tTRIGGERS\tCHECKS")
			for _, g := range gates {
				names := make([]string, 0, len(g.Checks))
				for _, c := range g.Checks {
					names = append(names, c.Label())
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", g.Name, strings.Join(g.Triggers, " "), strings.Join(names, ", "))
			}
		})
	},
}

func init() {
	gateCmd.AddCommand(gateRunCmd)
	gateCmd.AddCommand(gateListCmd)
	rootCmd.AddCommand(gateCmd)
}
