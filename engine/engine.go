package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/cron"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	mw "github.com/xraph/conductor/middleware"
	"github.com/xraph/conductor/observability"
	"github.com/xraph/conductor/queue"
	"github.com/xraph/conductor/scope"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/worker"
	"github.com/xraph/conductor/workflow"
)

// instrumentationName is the tracer and meter scope used when custom
// providers are configured.
const instrumentationName = "github.com/xraph/conductor"

// Compile-time interface check.
var _ workflow.Dispatcher = (*Engine)(nil)

// Engine wraps a Conductor with typed subsystem access.
// Use Build() to create one from a Conductor.
type Engine struct {
	c          *conductor.Conductor
	store      store.Store
	extensions *ext.Registry
	registry   *task.Registry
	bo         backoff.Strategy
	mws        []mw.Middleware
	logger     *slog.Logger
	workerID   id.WorkerID

	executor *worker.Executor
	pool     *worker.Pool

	// Workflow subsystem.
	manager *workflow.Manager
	hook    *workflow.Hook
	catalog *workflow.Catalog
	live    workflow.LiveSource
	purger  *workflow.Purger

	// Cluster and cron subsystem.
	membership   *membership
	scheduler    *cron.Scheduler
	controlPlane bool
	clusterStore cluster.Store

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.Default() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTaskRegistry uses reg instead of a fresh registry, e.g. to share
// step bodies registered before the engine is built.
func WithTaskRegistry(reg *task.Registry) Option {
	return func(eng *Engine) {
		if reg != nil {
			eng.registry = reg
		}
	}
}

// WithCatalog sets the named definitions available to CreateWorkflow.
// The catalog is validated against the task registry on Start.
func WithCatalog(c *workflow.Catalog) Option {
	return func(eng *Engine) {
		eng.catalog = c
	}
}

// WithLiveSource sets where the purger reads the owner's live set.
// Without one, purges are rejected.
func WithLiveSource(src workflow.LiveSource) Option {
	return func(eng *Engine) {
		eng.live = src
	}
}

// WithControlPlane builds an engine that serves workflow control and
// scheduled purges but runs no step bodies. It neither polls queues nor
// joins cluster membership, and Start skips catalog validation.
func WithControlPlane() Option {
	return func(eng *Engine) {
		eng.controlPlane = true
	}
}

// WithClusterStore keeps worker membership and scheduler leadership in cs
// instead of the task store, e.g. the Kubernetes Lease provider.
func WithClusterStore(cs cluster.Store) Option {
	return func(eng *Engine) {
		eng.clusterStore = cs
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider used by both the
// metrics middleware and the observability extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Conductor.
// The Conductor's store must implement store.Store.
func Build(c *conductor.Conductor, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	if c.Store() == nil {
		return nil, conductor.ErrNoStore
	}

	st, ok := c.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("conductor: store %T does not implement store.Store", c.Store())
	}

	eng := &Engine{
		c:          c,
		store:      st,
		extensions: ext.NewRegistry(logger),
		registry:   task.NewRegistry(),
		logger:     logger,
		workerID:   id.NewWorkerID(),
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.Default()
	}

	// Build tracing middleware (custom provider or global).
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}

	// Build metrics middleware and the lifecycle counters (custom provider
	// or global).
	metricsMw := mw.Metrics()
	obsExt := observability.NewMetricsExtension()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → owner → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Owner(),
		mw.Timeout(),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	config := c.Config()

	// Workflow subsystem. The engine is the manager's Dispatcher and the
	// extension registry its Emitter. A control plane does not know the
	// workers' bodies, so definitions are not checked against its registry.
	var steps workflow.StepRegistry = eng.registry
	if eng.controlPlane {
		steps = nil
	}
	eng.manager = workflow.NewManager(st, eng, st, steps, eng.extensions, logger,
		workflow.WithConflictRetries(config.ConflictRetries),
		workflow.WithStatusCache(config.StatusCacheSize),
	)
	eng.hook = workflow.NewHook(eng.manager)
	eng.purger = eng.manager.Purger(eng.live)

	// Executor and pool.
	eng.executor = worker.NewExecutor(eng.registry, eng.extensions, st, eng.bo, logger, allMws...)
	eng.executor.AddHook(eng.hook)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleTaskThreshold(config.StaleTaskThreshold),
		worker.WithWorkerID(eng.workerID),
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}
	eng.pool = worker.NewPool(st, eng.executor, eng.extensions, logger, poolOpts...)

	// Cluster membership and the leader-only scheduler.
	var cs cluster.Store = st
	if eng.clusterStore != nil {
		cs = eng.clusterStore
	}
	eng.membership = newMembership(cs, eng.workerID, config, logger)
	eng.scheduler = cron.NewScheduler(cs, eng.workerID, logger)
	if config.HeartbeatInterval > 0 {
		reap := cron.Entry{
			Name:     "cluster:reap-workers",
			Schedule: "@every " + config.HeartbeatInterval.String(),
			Run:      eng.membership.reapDead,
		}
		if err := eng.scheduler.Register(reap); err != nil {
			return nil, err
		}
	}

	// Wire back into the Conductor. Runners start in this order and stop
	// in reverse.
	if !eng.controlPlane {
		c.AddRunner(eng.membership)
		c.AddRunner(eng.pool)
	}
	c.AddRunner(eng.scheduler)
	c.SetExtensions(eng.extensions)

	return eng, nil
}

// Register registers a typed step body with the engine.
func Register[T any](eng *Engine, def *task.Definition[T]) {
	task.RegisterDefinition(eng.registry, def)
}

// RegisterFunc registers an untyped step body with the engine.
func (eng *Engine) RegisterFunc(name string, fn task.HandlerFunc, opts ...task.Option) {
	task.RegisterFunc(eng.registry, name, fn, opts...)
}

// Submit enqueues a PENDING task for the named body. Registration options
// apply first, then opts. The owner defaults to the one carried by ctx.
// A control plane engine submits bodies registered only in its workers,
// using default options for them.
func (eng *Engine) Submit(ctx context.Context, name string, args []any, kwargs map[string]any, opts ...task.Option) (id.TaskID, error) {
	if !eng.controlPlane && !eng.registry.Has(name) {
		return id.Nil, fmt.Errorf("%w: %q", conductor.ErrUnknownTask, name)
	}

	o := eng.registry.Options(name)
	for _, opt := range opts {
		opt(&o)
	}
	if o.Owner == "" {
		o.Owner = scope.Owner(ctx)
	}

	taskID := o.ID
	if taskID.IsNil() {
		taskID = id.NewTaskID()
	}

	now := time.Now().UTC()
	t := &task.Task{
		Entity:     conductor.NewEntity(),
		ID:         taskID,
		Name:       name,
		Queue:      o.Queue,
		Args:       args,
		Kwargs:     kwargs,
		Status:     task.StatusPending,
		Priority:   o.Priority,
		MaxRetries: o.MaxRetries,
		Owner:      o.Owner,
		RunAt:      now,
		Timeout:    o.Timeout,
	}
	if !o.RunAt.IsZero() {
		t.RunAt = o.RunAt.UTC()
	}

	if err := eng.store.EnqueueTask(ctx, t); err != nil {
		return id.Nil, err
	}

	eng.extensions.EmitTaskSubmitted(ctx, t)
	return t.ID, nil
}

// Revoke marks a task REVOKED. Tasks already in a final state are left
// untouched. With terminate, a body running in this process is cancelled;
// other processes notice at their next heartbeat.
func (eng *Engine) Revoke(ctx context.Context, taskID id.TaskID, terminate bool) error {
	revoked, err := eng.store.RevokeTask(ctx, taskID, "revoked")
	if err != nil {
		return err
	}
	if !revoked {
		return nil
	}
	if terminate {
		eng.pool.Terminate(taskID)
	}

	eng.extensions.EmitTaskRevoked(ctx, taskID, terminate)
	eng.logger.Debug("task revoked",
		slog.String("task_id", taskID.String()),
		slog.Bool("terminate", terminate),
	)
	return nil
}

// CreateWorkflow creates an instance of a catalog definition.
func (eng *Engine) CreateWorkflow(ctx context.Context, definition string, initialArgs []any, ownerTag string) (*workflow.Instance, error) {
	if eng.catalog == nil {
		return nil, fmt.Errorf("%w: %q (no catalog configured)", conductor.ErrUnknownDefinition, definition)
	}
	def, err := eng.catalog.Get(definition)
	if err != nil {
		return nil, err
	}
	return eng.manager.Create(ctx, def, initialArgs, ownerTag)
}

// SchedulePurge runs req on the given cron schedule, on the leader only.
func (eng *Engine) SchedulePurge(schedule string, req workflow.PurgeRequest) error {
	return eng.scheduler.Register(cron.Entry{
		Name:     "purge:" + req.OwnerTag,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := eng.purger.Purge(ctx, req)
			return err
		},
	})
}

// Start validates the catalog against the registered step bodies, then
// starts cluster membership, the worker pool and the scheduler. A control
// plane engine starts the scheduler only.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.catalog != nil && !eng.controlPlane {
		if err := eng.catalog.Validate(eng.registry); err != nil {
			return fmt.Errorf("validate catalog: %w", err)
		}
	}
	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.c.Stop(ctx)
}

// Conductor returns the underlying Conductor.
func (eng *Engine) Conductor() *conductor.Conductor { return eng.c }

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task registry.
func (eng *Engine) Registry() *task.Registry { return eng.registry }

// Workflows returns the workflow manager.
func (eng *Engine) Workflows() *workflow.Manager { return eng.manager }

// Catalog returns the definition catalog, or nil if none was configured.
func (eng *Engine) Catalog() *workflow.Catalog { return eng.catalog }

// Purger returns the purger.
func (eng *Engine) Purger() *workflow.Purger { return eng.purger }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// WorkerID returns this process's cluster identity.
func (eng *Engine) WorkerID() id.WorkerID { return eng.workerID }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
