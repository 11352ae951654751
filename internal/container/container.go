package container

import (
	"context"
	"fmt"

	"patchcert/adapters/bounds"
	"patchcert/adapters/sqlstore"
	"patchcert/app"
	"patchcert/domain/grid"
	"patchcert/internal"
	"patchcert/internal/batch"
	"patchcert/internal/config"
	"patchcert/internal/metrics"
	"patchcert/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Defense
	Params   bounds.Params
	Window   grid.WindowShape
	Provider ports.BoundProvider
	Service  *app.DefenseService

	// Observability
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Persistence; nil when no store driver is configured
	Store *sqlstore.ResultRepositoryImpl
}

// New creates a new dependency injection container
func New(cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		Params: bounds.Params{
			Model:     cfg.Defense.Model,
			Threshold: cfg.Defense.Threshold,
			ClipBound: cfg.Defense.ClipBound,
		},
	}

	strategy, err := bounds.ParseStrategy(cfg.Defense.Strategy)
	if err != nil {
		return nil, err
	}
	c.Params.Strategy = strategy

	window, err := cfg.Window()
	if err != nil {
		return nil, err
	}
	c.Window = window

	if err := c.initDefense(); err != nil {
		return nil, err
	}
	if err := c.initMetrics(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) initDefense() error {
	provider, err := bounds.NewProvider(c.Params)
	if err != nil {
		return fmt.Errorf("failed to build %s provider: %w", c.Params.Model, err)
	}
	c.Provider = provider
	c.Service = app.NewDefenseService(provider, c.Window)
	c.Logger.Debug("defense ready: model=%s window=%s", c.Params.Model, c.Window)
	return nil
}

func (c *Container) initMetrics() error {
	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(c.Registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	c.Metrics = m
	return nil
}

// InitStore opens the configured result store, if any.
func (c *Container) InitStore(ctx context.Context) error {
	if c.Config.Store.Driver == "" {
		return nil
	}
	store, err := sqlstore.Open(ctx, c.Config.Store.Driver, c.Config.Store.DSN)
	if err != nil {
		return err
	}
	c.Store = store
	c.Logger.Info("result store ready (%s)", c.Config.Store.Driver)
	return nil
}

// Runner builds a batch runner over the container's defense.
func (c *Container) Runner() *batch.Runner {
	return batch.NewRunner(c.Service, batch.Options{
		Workers:   c.Config.Batch.Workers,
		StopAfter: c.Config.Batch.StopAfter,
		Params:    c.Config.Params(),
	}, c.Logger, c.Metrics)
}

// SaveRun persists run when a store is configured.
func (c *Container) SaveRun(ctx context.Context, run *batch.Run) error {
	if c.Store == nil {
		return nil
	}
	header, rows := run.Records(c.Config.Defense.Threshold, c.Config.Defense.ClipBound)
	return c.Store.SaveRun(ctx, header, rows)
}

// Shutdown releases held resources.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Store != nil {
		return c.Store.Close()
	}
	return nil
}
