// Package engine runs automation flows, cadences and inactivity rules: it
// matches domain events, drives executions through their steps and advances
// enrollments on every tick.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/cache"
	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/lease"
	"github.com/dukex/crmflow/pkg/ledger"
	"github.com/dukex/crmflow/pkg/metrics"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/retry"
	"github.com/dukex/crmflow/pkg/triggers"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	ErrInvalidEvent          = errors.New("invalid domain event")
	ErrInvalidDefinition     = errors.New("invalid definition")
	ErrExecutionTerminal     = errors.New("execution is terminal")
	ErrExecutionNotTerminal  = errors.New("execution is not terminal")
	ErrExecutionNotPaused    = errors.New("execution is not paused")
	ErrStepNotFound          = errors.New("step not found")
	ErrStepNotFailed         = errors.New("step has not failed")
	ErrEnrollmentNotActive   = errors.New("enrollment is not active")
	ErrEnrollmentNotPaused   = errors.New("enrollment is not paused by an operator")
	ErrProgramInactive       = errors.New("program is inactive")
	ErrEntityNotEnrollable   = errors.New("entity kind cannot be enrolled")
	ErrMissingEntityStore    = errors.New("entity store is required")
	ErrMissingPersistence    = errors.New("persistence is required")
	ErrUnsupportedEntityKind = errors.New("unsupported entity kind")
)

const (
	DefaultMaxChainDepth = 5
	DefaultTickBatch     = 500
	DefaultCacheTTL      = 30 * time.Second
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	MaxChainDepth   int
	Retry           retry.Policy
	Lease           lease.Options
	TickBatch       int
	CacheTTL        time.Duration
	DelegateTimeout time.Duration

	// ExtraTemplateVariables are accepted by activation-time template checks
	// on top of the entity catalog, e.g. tenant custom fields.
	ExtraTemplateVariables []string

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxChainDepth <= 0 {
		c.MaxChainDepth = DefaultMaxChainDepth
	}

	if c.TickBatch <= 0 {
		c.TickBatch = DefaultTickBatch
	}

	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}

	if c.Lease.TTL <= 0 {
		c.Lease.TTL = lease.DefaultTTL
	}

	if c.Lease.Wait == 0 {
		c.Lease.Wait = lease.DefaultWait
	}

	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}

	return c
}

// Dependencies are the collaborators of the engine. Store and
// Delegates.Entities are required; the rest fall back to in-process or no-op
// implementations.
type Dependencies struct {
	Store     persistence.Persistence
	Delegates actions.Dependencies
	Locker    lease.Locker
	Publisher eventbus.EventPublisher
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

type Engine struct {
	cfg Config

	store     persistence.Persistence
	entities  actions.EntityStore
	ledger    *ledger.Ledger
	matcher   *triggers.Matcher
	evaluator *conditions.Evaluator
	executor  *actions.Executor
	locker    lease.Locker
	publisher eventbus.EventPublisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	validate  *validator.Validate

	flows    *cache.TTL[[]*models.AutomationFlow]
	cadences *cache.TTL[[]*models.Cadence]

	logger *slog.Logger
}

func New(cfg Config, deps Dependencies, logger *slog.Logger) (*Engine, error) {
	if deps.Store == nil {
		return nil, ErrMissingPersistence
	}

	if deps.Delegates.Entities == nil {
		return nil, ErrMissingEntityStore
	}

	cfg = cfg.withDefaults()

	if deps.Locker == nil {
		deps.Locker = lease.NewLocal()
	}

	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("crmflow")
	}

	if deps.Delegates.Templates == nil {
		deps.Delegates.Templates = storedTemplates{repo: deps.Store.Templates()}
	}

	e := &Engine{
		cfg:       cfg,
		store:     deps.Store,
		entities:  deps.Delegates.Entities,
		ledger:    ledger.New(deps.Store, logger),
		matcher:   triggers.NewMatcher(logger),
		evaluator: conditions.NewEvaluator(logger),
		locker:    deps.Locker,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		validate:  models.NewValidator(),
		flows:     cache.NewTTL[[]*models.AutomationFlow](cfg.CacheTTL),
		cadences:  cache.NewTTL[[]*models.Cadence](cfg.CacheTTL),
		logger:    logger.With("module", "engine"),
	}

	e.executor = actions.NewExecutor(deps.Delegates, cfg.DelegateTimeout, logger)
	e.executor.SetEnroller(e)

	return e, nil
}

func (e *Engine) now() time.Time {
	return e.cfg.Now()
}

// Ledger exposes the execution ledger for read-only consumers.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// HealthCheck reports whether the backing store is reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.store.HealthCheck(ctx)
}

// withLease runs fn while holding key and counts contention.
func (e *Engine) withLease(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	err := lease.With(ctx, e.locker, key, e.cfg.Lease, fn)
	if errors.Is(err, lease.ErrNotAcquired) {
		e.metrics.Contended()
		e.logger.WarnContext(ctx, "lease busy", "key", key)
	}

	return err
}

// executionLeaseKey is the pair lease that serializes work on execution.
func executionLeaseKey(execution *models.AutomationExecution) string {
	switch execution.Source {
	case models.ExecutionFromFlow:
		return lease.FlowKey(execution.TenantID, execution.FlowID, execution.EntityID)
	case models.ExecutionFromCadence:
		return lease.CadenceKey(execution.TenantID, execution.ProgramID, execution.EntityID)
	case models.ExecutionFromInactivity:
		return lease.InactivityKey(execution.TenantID, execution.ProgramID, execution.EntityID)
	default:
		return lease.ExecutionKey(execution.ID)
	}
}

func enrollmentLeaseKey(enrollment *models.CadenceEnrollment) string {
	if enrollment.ProgramKind == models.ProgramInactivity {
		return lease.InactivityKey(enrollment.TenantID, enrollment.ProgramID, enrollment.EntityID)
	}

	return lease.CadenceKey(enrollment.TenantID, enrollment.ProgramID, enrollment.EntityID)
}
