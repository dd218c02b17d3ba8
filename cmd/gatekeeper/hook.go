package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/adrianpk/gatekeeper/internal/hook"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Decide a PreToolUse event read from stdin",
	Long: `Reads a Claude Code PreToolUse event on stdin and prints the permission
decision. Allow and deny are written as hook output; ask prints nothing so
the normal permission prompt is shown. Malformed input exits with status 1.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng, closeAudit := a.engine()
		defer closeAudit()

		d, err := hook.NewEvaluator(eng).Handle(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		log.Debug().Str("id", d.ID).Str("verdict", string(d.Verdict)).Str("rule", d.MatchedRule).Msg("hook decided")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}
