package conductor

import (
	"context"
	"log/slog"
)

// Option configures a Conductor.
type Option func(*Conductor) error

// Storer is the minimal store interface held by the Conductor.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for background component lifecycle
// (worker pool, cron scheduler).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Conductor is the central coordinator holding configuration, the logger,
// the store and the background runners of a process.
//
// Create one with New() and functional options, then hand it to
// engine.Build which wires the subsystems together.
type Conductor struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	runners    []runner

	started []runner
}

// New creates a new Conductor with the given options.
func New(opts ...Option) (*Conductor, error) {
	c := &Conductor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the conductor's logger.
func (c *Conductor) Logger() *slog.Logger { return c.logger }

// Store returns the conductor's store.
func (c *Conductor) Store() Storer { return c.store }

// Config returns a copy of the conductor's configuration.
func (c *Conductor) Config() Config { return c.config }

// AddRunner registers a background component started by Start and stopped
// in reverse order by Stop (called by the engine package).
func (c *Conductor) AddRunner(r runner) { c.runners = append(c.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Conductor) SetExtensions(e extensionEmitter) { c.extensions = e }

// Start starts every registered runner. If one fails, the runners already
// started are stopped before the error is returned.
func (c *Conductor) Start(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}
	for _, r := range c.runners {
		if err := r.Start(ctx); err != nil {
			_ = c.stopRunners(ctx)
			return err
		}
		c.started = append(c.started, r)
	}
	return nil
}

// Stop gracefully shuts down runners, notifies extensions and closes the
// store.
func (c *Conductor) Stop(ctx context.Context) error {
	if err := c.stopRunners(ctx); err != nil {
		c.logger.Error("runner stop error", slog.String("error", err.Error()))
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

func (c *Conductor) stopRunners(ctx context.Context) error {
	var first error
	for i := len(c.started) - 1; i >= 0; i-- {
		if err := c.started[i].Stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	c.started = nil
	return first
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Conductor) error {
		c.config = cfg
		return nil
	}
}

// WithConcurrency sets the maximum number of concurrent task processors.
func WithConcurrency(n int) Option {
	return func(c *Conductor) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues this process will poll.
func WithQueues(queues []string) Option {
	return func(c *Conductor) error {
		c.config.Queues = queues
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conductor) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement Storer
// at minimum; typically it will be a store.Store which embeds all
// subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Conductor) error {
		c.store = s
		return nil
	}
}
