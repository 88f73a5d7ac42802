package workflow

import (
	"testing"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

func TestStatusCache_EvictsOldest(t *testing.T) {
	c := newStatusCache(2)
	a := &task.Task{ID: id.NewTaskID(), Status: task.StatusSuccess}
	b := &task.Task{ID: id.NewTaskID(), Status: task.StatusFailure}
	d := &task.Task{ID: id.NewTaskID(), Status: task.StatusRevoked}

	c.put(a)
	c.put(b)
	c.put(a)
	if n := c.len(); n != 2 {
		t.Fatalf("len = %d, want 2", n)
	}

	c.put(d)
	if _, ok := c.get(a.ID); ok {
		t.Fatal("oldest entry survived eviction")
	}
	for _, want := range []*task.Task{b, d} {
		got, ok := c.get(want.ID)
		if !ok || got.Status != want.Status {
			t.Fatalf("get(%s) = %+v, %v, want %q", want.ID, got, ok, want.Status)
		}
	}

	c.forget([]id.TaskID{b.ID})
	if n := c.len(); n != 1 {
		t.Fatalf("len after forget = %d, want 1", n)
	}
}

func TestStatusCache_RecachedAfterForget(t *testing.T) {
	c := newStatusCache(3)
	a := &task.Task{ID: id.NewTaskID(), Status: task.StatusSuccess}
	b := &task.Task{ID: id.NewTaskID(), Status: task.StatusSuccess}
	d := &task.Task{ID: id.NewTaskID(), Status: task.StatusFailure}

	c.put(a)
	c.forget([]id.TaskID{a.ID})
	c.put(a)
	c.put(b)

	// The ring wraps onto a's freed slot, which must not evict a's new one.
	c.put(d)
	for _, want := range []*task.Task{a, b, d} {
		if _, ok := c.get(want.ID); !ok {
			t.Fatalf("get(%s) missing after wrap", want.ID)
		}
	}
	if n := c.len(); n != 3 {
		t.Fatalf("len = %d, want 3", n)
	}
}

func TestStatusCache_ReturnsCopies(t *testing.T) {
	c := newStatusCache(4)
	tk := &task.Task{ID: id.NewTaskID(), Status: task.StatusSuccess, Result: task.Result{"X"}}
	c.put(tk)
	tk.Result[0] = "mutated"

	got, _ := c.get(tk.ID)
	got.Status = task.StatusFailure
	again, _ := c.get(tk.ID)
	if again.Status != task.StatusSuccess || again.Result[0] != "X" {
		t.Fatalf("cached record changed through a copy: %+v", again)
	}
}

func TestStatusCache_NilIsDisabled(t *testing.T) {
	c := newStatusCache(0)
	if c != nil {
		t.Fatal("newStatusCache(0) returned a cache")
	}
	c.put(&task.Task{ID: id.NewTaskID()})
	if _, ok := c.get(id.NewTaskID()); ok || c.len() != 0 {
		t.Fatal("nil cache held an entry")
	}
	c.forget(nil)
}
