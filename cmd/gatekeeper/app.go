package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/adrianpk/gatekeeper/internal/audit"
	"github.com/adrianpk/gatekeeper/internal/audit/pgstore"
	"github.com/adrianpk/gatekeeper/internal/audit/sqlstore"
	"github.com/adrianpk/gatekeeper/internal/config"
	"github.com/adrianpk/gatekeeper/internal/engine"
	"github.com/adrianpk/gatekeeper/internal/gate"
	"github.com/adrianpk/gatekeeper/internal/logging"
	"github.com/adrianpk/gatekeeper/internal/metrics"
	"github.com/adrianpk/gatekeeper/internal/policy"
)

// app holds the components shared by the commands.
type app struct {
	cfg   *config.Config
	store *policy.Store
}

// loadApp reads the configuration, sets up logging and loads the policy.
// A policy that fails to load is logged; the store then has no snapshot and
// every decision is ask.
func loadApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	if err := logging.Setup(os.Stderr, level, cfg.Log.Format); err != nil {
		return nil, err
	}
	log.Debug().Str("config", cfg.Source).Str("project", cfg.ProjectDir).Msg("configuration loaded")

	store := policy.NewStore(cfg.Resolve(cfg.PolicyPath), policy.WithReloadHook(metrics.ObservePolicyReload))
	if err := store.Load(); err != nil {
		log.Error().Err(err).Msg("policy not loaded, deferring every decision to the user")
	}

	return &app{cfg: cfg, store: store}, nil
}

// openSink opens the audit sink selected by the configuration.
func (a *app) openSink() (audit.Sink, error) {
	switch a.cfg.Audit.Driver {
	case config.DriverFile:
		return audit.OpenFile(a.cfg.Resolve(a.cfg.Audit.Path))
	case config.DriverSQLite:
		dsn := a.cfg.Audit.DSN
		if dsn == "" {
			dsn = a.cfg.Resolve(a.cfg.Audit.Path)
		}
		return sqlstore.OpenSQLite(dsn)
	case config.DriverPostgres:
		return pgstore.OpenPostgres(a.cfg.Audit.DSN)
	case config.DriverNone:
		return audit.Discard{}, nil
	}
	return nil, fmt.Errorf("%w: unknown audit driver %q", config.ErrInvalid, a.cfg.Audit.Driver)
}

func (a *app) runner() *gate.Runner {
	return &gate.Runner{
		Timeout:   a.cfg.Gate.Timeout,
		MaxOutput: a.cfg.Gate.MaxOutput,
		Dir:       a.cfg.ProjectDir,
		Observe:   metrics.ObserveGateCheck,
	}
}

// engine builds the decision engine. An audit sink that cannot be opened
// is logged and replaced by a discarding one so decisions still happen.
func (a *app) engine() (*engine.Engine, func()) {
	sink, err := a.openSink()
	if err != nil {
		log.Error().Err(err).Str("driver", a.cfg.Audit.Driver).Msg("audit log unavailable")
		sink = audit.Discard{}
	}
	lg := audit.New(sink)

	opts := []engine.Option{
		engine.WithAudit(lg),
		engine.WithGateRunner(a.runner()),
		engine.WithProjectDir(a.cfg.ProjectDir),
	}
	if a.cfg.Threshold != nil {
		opts = append(opts, engine.WithThreshold(*a.cfg.Threshold))
	}

	closeFn := func() {
		if err := lg.Close(); err != nil {
			log.Warn().Err(err).Msg("close audit log")
		}
	}
	return engine.New(a.store, opts...), closeFn
}

// threshold returns the effective substantive line budget.
func (a *app) threshold() int {
	if a.cfg.Threshold != nil {
		return *a.cfg.Threshold
	}
	if snap := a.store.Snapshot(); snap != nil {
		return snap.Policy.Threshold
	}
	return policy.DefaultThreshold
}

// snapshot returns the loaded policy or an error when none is available.
func (a *app) snapshot() (*policy.Snapshot, error) {
	snap := a.store.Snapshot()
	if snap == nil {
		return nil, fmt.Errorf("no policy loaded from %s", a.store.Path())
	}
	return snap, nil
}
