package sim

import (
	"context"
	"sort"
	"sync"

	"github.com/thebowwman/delisim/internals/domain"
)

// Task is the state of one running simulation. Everything except step is
// fixed at creation; step is only touched by the task's own goroutine.
type Task struct {
	DeliveryID  string
	Route       domain.Route
	Destination domain.Coordinate

	step   int
	cancel context.CancelFunc
	done   chan struct{}
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Registry maps delivery ids to running tasks. Map operations take a short
// global lock; start/stop sequences for one id serialize on a per-key lock so
// slow route building for one delivery never blocks another.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	locks map[string]*keyLock
}

func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		locks: make(map[string]*keyLock),
	}
}

// lock acquires the per-key lock for id and returns its release func.
func (r *Registry) lock(id string) func() {
	r.mu.Lock()
	kl, ok := r.locks[id]
	if !ok {
		kl = &keyLock{}
		r.locks[id] = kl
	}
	kl.refs++
	r.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()

		r.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) put(t *Task) {
	r.mu.Lock()
	r.tasks[t.DeliveryID] = t
	r.mu.Unlock()
}

func (r *Registry) get(id string) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id]
}

func (r *Registry) remove(id string) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[id]
	delete(r.tasks, id)
	return t
}

// removeIf deletes t only if it is still the registered task for its id.
func (r *Registry) removeIf(t *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[t.DeliveryID] != t {
		return false
	}
	delete(r.tasks, t.DeliveryID)
	return true
}

// owns reports whether t is the registered task for its id.
func (r *Registry) owns(t *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[t.DeliveryID] == t
}

func (r *Registry) Has(id string) bool {
	return r.get(id) != nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// IDs lists the running delivery ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) snapshot() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}
