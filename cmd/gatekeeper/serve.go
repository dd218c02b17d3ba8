package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/adrianpk/gatekeeper/internal/metrics"
	"github.com/adrianpk/gatekeeper/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP decision API",
	Long: `Serves decisions over HTTP for agents that cannot run the hook binary.
The policy file is watched and reloaded on change unless serve.watch is
false. Stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		addr := a.cfg.Serve.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		eng, closeAudit := a.engine()
		defer closeAudit()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics.MustRegister(reg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.New(eng, a.store, reg).ListenAndServe(ctx, addr)
		})
		if a.cfg.Serve.Watch {
			g.Go(func() error {
				if err := a.store.Watch(ctx); err != nil {
					log.Warn().Err(err).Msg("policy watch disabled, use POST /v1/reload")
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info().Msg("stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: serve.addr from config)")
	rootCmd.AddCommand(serveCmd)
}
