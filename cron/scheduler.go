package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/id"
)

// ErrDuplicateEntry is returned by Register for a name already in use.
var ErrDuplicateEntry = errors.New("conductor: duplicate cron entry")

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLeaderTTL sets the TTL for leader election.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// WithRunTimeout bounds a single entry firing. Zero means no bound.
func WithRunTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.runTimeout = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type registered struct {
	entry     Entry
	schedule  cronlib.Schedule
	nextRunAt time.Time
	lastRunAt *time.Time
	lastError string
}

// Scheduler fires registered entries on a tick loop. Only the cluster
// leader executes ticks to prevent double-firing.
type Scheduler struct {
	clusterStore cluster.Store
	workerID     id.WorkerID
	logger       *slog.Logger

	tickInterval time.Duration
	leaderTTL    time.Duration
	runTimeout   time.Duration

	mu      sync.Mutex
	entries map[string]*registered

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler for the worker identified by workerID.
// The worker should be registered in clusterStore before Start.
func NewScheduler(
	clusterStore cluster.Store,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		clusterStore: clusterStore,
		workerID:     workerID,
		logger:       logger,
		tickInterval: 1 * time.Second,
		leaderTTL:    15 * time.Second,
		entries:      make(map[string]*registered),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an entry. Its first firing is the next schedule
// activation after now.
func (s *Scheduler) Register(e Entry) error {
	if e.Name == "" || e.Run == nil {
		return fmt.Errorf("conductor: cron entry needs a name and a run func")
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("conductor: cron entry %q: parse schedule %q: %w", e.Name, e.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateEntry, e.Name)
	}
	s.entries[e.Name] = &registered{
		entry:     e,
		schedule:  sched,
		nextRunAt: sched.Next(time.Now().UTC()),
	}
	return nil
}

// Entries returns a snapshot of every registered entry, sorted by name.
func (s *Scheduler) Entries() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.entries))
	for _, r := range s.entries {
		out = append(out, Status{
			Name:      r.entry.Name,
			Schedule:  r.entry.Schedule,
			LastRunAt: r.lastRunAt,
			LastError: r.lastError,
			NextRunAt: r.nextRunAt,
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start launches the leader election and cron tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.leaderLoop()
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for goroutines to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

// leaderLoop continuously attempts to acquire or renew leadership.
func (s *Scheduler) leaderLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.leaderTTL / 2)
	defer ticker.Stop()

	s.tryLeadership()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Scheduler) tryLeadership() {
	ctx := context.Background()

	// Renewing is cheap when already leader.
	renewed, err := s.clusterStore.RenewLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	}
	if renewed {
		return
	}

	acquired, err := s.clusterStore.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired cron leadership", slog.String("worker_id", s.workerID.String()))
	}
}

// tickLoop fires on each tick interval and processes due entries.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	leader, err := s.clusterStore.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("get leader error", slog.String("error", err.Error()))
		return
	}
	if leader == nil || leader.ID != s.workerID {
		return
	}

	now := time.Now().UTC()
	for _, r := range s.due(now) {
		s.fire(ctx, r, now)
	}
}

// due returns entries whose next run is at or before now and advances
// their next run so a slow firing is not repeated by the next tick.
func (s *Scheduler) due(now time.Time) []*registered {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*registered
	for _, r := range s.entries {
		if r.nextRunAt.After(now) {
			continue
		}
		r.nextRunAt = r.schedule.Next(now)
		out = append(out, r)
	}
	return out
}

func (s *Scheduler) fire(ctx context.Context, r *registered, now time.Time) {
	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	err := s.run(runCtx, r.entry)

	s.mu.Lock()
	ran := now
	r.lastRunAt = &ran
	r.lastError = ""
	if err != nil {
		r.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("cron entry failed",
			slog.String("cron_name", r.entry.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("cron fired",
		slog.String("cron_name", r.entry.Name),
		slog.Duration("elapsed", time.Since(now)),
	)
}

// run invokes the entry, turning a panic into an error.
func (s *Scheduler) run(ctx context.Context, e Entry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return e.Run(ctx)
}
