package prefetch

import "sync"

// task is one in-flight fetch. The pointer doubles as a registration token:
// a completion only commits if its task is still the one registered for id.
type task struct {
	id     string
	cancel func()
	done   bool
}

// Registry tracks in-flight fetches keyed by resource identity. It is the
// only owner of their cancel funcs.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*task
}

func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*task),
	}
}

// Has reports whether a fetch for id is in flight.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return ok && !t.done
}

// Register records a fetch for id unless one is already in flight. A false
// return means the caller must not keep its own fetch running.
func (r *Registry) Register(id string, cancel func()) bool {
	_, ok := r.register(id, cancel)
	return ok
}

func (r *Registry) register(id string, cancel func()) (*task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok && !t.done {
		return nil, false
	}
	t := &task{id: id, cancel: cancel}
	r.tasks[id] = t
	return t, true
}

// Complete removes the entry for id. Absent ids are ignored.
func (r *Registry) Complete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.done = true
		delete(r.tasks, id)
	}
}

// current reports whether t is still the registered task for its id.
func (r *Registry) current(t *task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[t.id] == t && !t.done
}

// complete removes t only if it is still registered. It reports whether it was.
func (r *Registry) complete(t *task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[t.id] != t {
		return false
	}
	t.done = true
	delete(r.tasks, t.id)
	return true
}

// Cancel removes the fetch for id and invokes its cancel func. It reports
// whether a fetch was in flight; absent ids are a no-op.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if ok {
		t.done = true
		delete(r.tasks, id)
	}
	r.mu.Unlock()

	// Removal happens first so a completion racing in sees a stale token.
	if ok && t.cancel != nil {
		t.cancel()
	}
	return ok
}

// CancelAll cancels every in-flight fetch and returns how many there were.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	tasks := make([]*task, 0, len(r.tasks))
	for id, t := range r.tasks {
		t.done = true
		tasks = append(tasks, t)
		delete(r.tasks, id)
	}
	r.mu.Unlock()

	for _, t := range tasks {
		if t.cancel != nil {
			t.cancel()
		}
	}
	return len(tasks)
}

// Len returns the number of in-flight fetches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
