package supervisor

import "sync"

// Entry is the process-group record of one running task.
type Entry struct {
	MasterPID  int
	WorkerPIDs []int
	Port       int
}

// Registry maps task IDs to their process groups. Entries are added at
// launch and removed only after kill-and-wait.
type Registry struct {
	mu sync.Mutex
	m  map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Entry)}
}

// Register stores the process group for a task.
func (r *Registry) Register(taskID string, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[taskID] = e
}

// SetWorkers updates the discovered worker PIDs of a registered task.
func (r *Registry) SetWorkers(taskID string, pids []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[taskID]
	if !ok {
		return
	}
	e.WorkerPIDs = pids
	r.m[taskID] = e
}

// Lookup returns the entry for a task.
func (r *Registry) Lookup(taskID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[taskID]
	return e, ok
}

// Forget drops a task's entry.
func (r *Registry) Forget(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, taskID)
}

// TaskIDs lists the currently registered tasks.
func (r *Registry) TaskIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.m))
	for id := range r.m {
		ids = append(ids, id)
	}
	return ids
}
