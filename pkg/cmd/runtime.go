package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/lease"
	"github.com/dukex/crmflow/pkg/metrics"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type RuntimeConfig struct {
	ServiceName string

	DatabaseURL  string
	EventBus     string
	KafkaBrokers []string
	LockBackend  string
	RedisURL     string
	OtelEnabled  bool

	MaxChainDepth int
	MaxAttempts   int
	TickBatch     int
	CacheTTL      time.Duration

	Delegates DelegateConfig
}

// Runtime holds everything a process needs to run the engine. Close releases
// it in reverse construction order.
type Runtime struct {
	Engine   *engine.Engine
	Store    persistence.Persistence
	Bus      eventbus.EventBus
	Locker   lease.Locker
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	closers []func(ctx context.Context) error
	logger  *slog.Logger
}

func NewRuntime(ctx context.Context, cfg RuntimeConfig, logger *slog.Logger) (rt *Runtime, err error) {
	rt = &Runtime{logger: logger}

	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.Metrics = metrics.New(rt.Registry)

	tracer, shutdown, err := otelhelper.NewTracer(ctx, cfg.ServiceName, cfg.OtelEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	rt.closers = append(rt.closers, shutdown)

	rt.Store, err = NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	rt.closers = append(rt.closers, rt.Store.Close)

	if cfg.EventBus != "" {
		rt.Bus, err = NewEventBus(cfg.EventBus, cfg.KafkaBrokers, cfg.OtelEnabled, logger)
		if err != nil {
			return nil, err
		}

		rt.closers = append(rt.closers, func(context.Context) error { return rt.Bus.Close() })
	}

	locker, release, err := NewLocker(cfg.LockBackend, cfg.RedisURL, rt.Store)
	if err != nil {
		return nil, err
	}

	rt.Locker = locker
	rt.closers = append(rt.closers, func(context.Context) error { return release() })

	delegates, err := NewDelegates(ctx, cfg.Delegates, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure delegates: %w", err)
	}

	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}

	deps := engine.Dependencies{
		Store:     rt.Store,
		Delegates: delegates,
		Locker:    rt.Locker,
		Metrics:   rt.Metrics,
		Tracer:    tracer,
	}

	if rt.Bus != nil {
		deps.Publisher = rt.Bus
	}

	rt.Engine, err = engine.New(engine.Config{
		MaxChainDepth:   cfg.MaxChainDepth,
		Retry:           policy,
		TickBatch:       cfg.TickBatch,
		CacheTTL:        cfg.CacheTTL,
		DelegateTimeout: cfg.Delegates.Timeout,
	}, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return rt, nil
}

func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	r.closers = nil

	if err := errors.Join(errs...); err != nil {
		r.logger.ErrorContext(ctx, "Failed to close runtime", "error", err)

		return err
	}

	return nil
}
