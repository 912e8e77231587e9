package cli

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/studiobrain/internal/capability"
	"github.com/roach88/studiobrain/internal/config"
	"github.com/roach88/studiobrain/internal/connector"
	"github.com/roach88/studiobrain/internal/jobs"
	"github.com/roach88/studiobrain/internal/metrics"
	"github.com/roach88/studiobrain/internal/policy"
	"github.com/roach88/studiobrain/internal/state"
	"github.com/roach88/studiobrain/internal/store"
)

// app is the wired runtime shared by the commands that need more than
// the store.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	metrics  *metrics.Metrics
	registry *connector.Registry
	backend  *connector.Backend
	meta     policy.MetadataSet
	runtime  *capability.Runtime
	state    *state.Job
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.DBPath != "" {
		cfg.Store.Path = opts.DBPath
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	slog.Debug("opening database", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// newApp builds every component from cfg. Callers must call close.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: st, metrics: metrics.New()}

	a.meta, err = policy.LoadMetadata(cfg.PolicyFile)
	if err != nil {
		a.close()
		return nil, WrapExitError(ExitCommandError, "failed to load policy metadata", err)
	}
	caps, err := policy.NewRegistry(policy.DefaultCapabilities())
	if err != nil {
		a.close()
		return nil, WrapExitError(ExitCommandError, "invalid capability registry", err)
	}

	if err := a.buildConnectors(); err != nil {
		a.close()
		return nil, WrapExitError(ExitCommandError, "failed to register connectors", err)
	}

	a.runtime, err = capability.New(ctx, st, caps,
		capability.WithMetadata(a.meta),
		capability.WithConnectors(a.registry),
		capability.WithDecisionObserver(a.metrics),
		capability.WithLogger(logger),
	)
	if err != nil {
		a.close()
		return nil, WrapExitError(ExitCommandError, "failed to start runtime", err)
	}

	a.state = state.NewJob(state.NewComputer(a.stateSources(),
		state.WithSourceTimeout(cfg.Jobs.SourceTimeout),
		state.WithLogger(logger),
	), st, logger)
	return a, nil
}

func (a *app) buildConnectors() error {
	c := a.cfg.Connectors
	a.registry = connector.NewRegistry(
		connector.WithCallTimeout(c.CallTimeout),
		connector.WithRegistryLogger(a.logger),
		connector.WithCircuitObserver(a.metrics),
	)
	client := &http.Client{Timeout: c.CallTimeout + time.Second}
	if c.HubitatURL != "" {
		hub := connector.NewHubitat(connector.HTTPTransport(c.HubitatURL, c.HubitatToken, client), c.StaleAfter, nil)
		if err := a.registry.Register(hub); err != nil {
			return err
		}
	}
	if c.BackendURL != "" {
		a.backend = connector.NewBackend(connector.HTTPTransport(c.BackendURL, c.BackendToken, client), c.StaleAfter, nil)
		if err := a.registry.Register(a.backend); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) stateSources() []state.Source {
	sources := []state.Source{
		state.ProposalSource(a.store),
		state.AuditSource(a.store, time.Now),
	}
	if _, ok := a.registry.ReadOnly(connector.HubitatID); ok {
		sources = append(sources, state.DeviceSource(a.registry, connector.HubitatID, "devices"))
	}
	if a.backend != nil {
		sources = append(sources,
			state.DeviceSource(a.registry, connector.BackendID, "kilns"),
			state.FinanceSource(a.backend),
		)
	}
	return sources
}

// stateRunner schedules the snapshot job. RunOnce on the runner is what
// the recompute route calls, so manual and scheduled runs never overlap.
func (a *app) stateRunner() *jobs.Runner {
	return jobs.NewRunner("state", a.cfg.Jobs.Interval,
		func(ctx context.Context) error {
			_, err := a.state.Run(ctx)
			return err
		},
		jobs.WithJitter(a.cfg.Jobs.Jitter),
		jobs.WithObserver(a.metrics),
		jobs.WithLogger(a.logger),
	)
}

func (a *app) retentionRunner() (*jobs.Runner, error) {
	fn, err := jobs.RetentionJob(a.store, a.cfg.Jobs.RetentionDays, time.Now, a.logger)
	if err != nil {
		return nil, err
	}
	return jobs.NewRunner("audit-retention", a.cfg.Jobs.RetentionInterval, fn,
		jobs.WithObserver(a.metrics),
		jobs.WithLogger(a.logger),
	), nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}
