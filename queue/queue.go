package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limits bounds how fast and how many tasks may run.
type Limits struct {
	// MaxConcurrency caps simultaneously running tasks in the local pool.
	// Zero means no cap beyond the pool-wide concurrency.
	MaxConcurrency int

	// RateLimit is the maximum sustained task starts per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit is
	// set.
	RateBurst int
}

// Config applies Limits to the tasks of one queue. Step queue hints in
// workflow definitions name these queues (e.g. "archive", "stage").
type Config struct {
	Name string
	Limits
}

// OwnerConfig applies Limits to all tasks of one owner tag, across queues,
// so one application instance cannot starve the others.
type OwnerConfig struct {
	Owner string
	Limits
}

// gate is the runtime state behind one Limits value.
type gate struct {
	limits  Limits
	limiter *rate.Limiter
	active  int
}

func newGate(l Limits, active int) *gate {
	g := &gate{limits: l, active: active}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}
	return g
}

// full reports whether the concurrency cap is reached.
func (g *gate) full() bool {
	return g.limits.MaxConcurrency > 0 && g.active >= g.limits.MaxConcurrency
}

// Manager enforces per-queue and per-owner limits before a claimed task
// runs. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*gate
	owners map[string]*gate
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues: make(map[string]*gate, len(configs)),
		owners: make(map[string]*gate),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newGate(cfg.Limits, 0)
	}
	return m
}

// Acquire reports whether a task of the given queue and owner may start
// now. On success the active counters are incremented and the caller MUST
// call Release when the task finishes.
//
// Concurrency caps are checked before any rate token is consumed, so a
// rejected task does not burn tokens of the other gate.
func (m *Manager) Acquire(queue, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[queue]
	var o *gate
	if owner != "" {
		o = m.owners[owner]
	}

	if (q != nil && q.full()) || (o != nil && o.full()) {
		return false
	}
	if q != nil && q.limiter != nil && !q.limiter.Allow() {
		return false
	}
	if o != nil && o.limiter != nil && !o.limiter.Allow() {
		return false
	}

	if q != nil {
		q.active++
	}
	if o != nil {
		o.active++
	}
	return true
}

// Release decrements the active counters for the queue and owner.
func (m *Manager) Release(queue, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q := m.queues[queue]; q != nil && q.active > 0 {
		q.active--
	}
	if owner == "" {
		return
	}
	if o := m.owners[owner]; o != nil && o.active > 0 {
		o.active--
	}
}

// SetQueueConfig updates (or creates) a queue configuration, keeping the
// current active count.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	if existing := m.queues[cfg.Name]; existing != nil {
		active = existing.active
	}
	m.queues[cfg.Name] = newGate(cfg.Limits, active)
}

// SetOwnerConfig updates (or creates) the limits for an owner tag,
// keeping the current active count.
func (m *Manager) SetOwnerConfig(cfg OwnerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	if existing := m.owners[cfg.Owner]; existing != nil {
		active = existing.active
	}
	m.owners[cfg.Owner] = newGate(cfg.Limits, active)
}

// ActiveCount returns the number of running tasks counted for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q := m.queues[queue]; q != nil {
		return q.active
	}
	return 0
}

// OwnerActiveCount returns the number of running tasks counted for an
// owner tag.
func (m *Manager) OwnerActiveCount(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o := m.owners[owner]; o != nil {
		return o.active
	}
	return 0
}
