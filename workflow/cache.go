package workflow

import (
	"sync"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

// statusCache holds ledger records that can no longer change, evicting the
// oldest entry once full. A nil cache is valid and caches nothing.
type statusCache struct {
	mu      sync.Mutex
	size    int
	entries map[id.TaskID]cacheEntry
	order   []id.TaskID // ring of slots; a forgotten slot holds id.Nil
	next    int
}

type cacheEntry struct {
	task *task.Task
	slot int
}

func newStatusCache(size int) *statusCache {
	if size <= 0 {
		return nil
	}
	return &statusCache{
		size:    size,
		entries: make(map[id.TaskID]cacheEntry, size),
		order:   make([]id.TaskID, 0, size),
	}
}

func (c *statusCache) get(taskID id.TaskID) (*task.Task, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[taskID]
	if !ok {
		return nil, false
	}
	return e.task.Clone(), true
}

func (c *statusCache) put(t *task.Task) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[t.ID]; ok {
		return
	}
	var slot int
	if len(c.order) < c.size {
		slot = len(c.order)
		c.order = append(c.order, t.ID)
	} else {
		slot = c.next
		if old := c.order[slot]; !old.IsNil() {
			delete(c.entries, old)
		}
		c.order[slot] = t.ID
		c.next = (c.next + 1) % c.size
	}
	c.entries[t.ID] = cacheEntry{task: t.Clone(), slot: slot}
}

// forget drops entries for deleted tasks and frees their slots.
func (c *statusCache) forget(taskIDs []id.TaskID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tid := range taskIDs {
		e, ok := c.entries[tid]
		if !ok {
			continue
		}
		c.order[e.slot] = id.Nil
		delete(c.entries, tid)
	}
}

func (c *statusCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
