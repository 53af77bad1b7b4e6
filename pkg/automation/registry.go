package automation

import (
	"sort"
	"sync"
)

// Registry tracks the last known status of every task this process touched
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskStatus
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]TaskStatus)}
}

// Put stores or replaces a task status
func (r *Registry) Put(status TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[status.ID] = status
}

// Get returns a copy of a task status
func (r *Registry) Get(id string) (TaskStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status, ok := r.tasks[id]
	return status, ok
}

// SetStatus updates the status field of a known task
func (r *Registry) SetStatus(id, status string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return false
	}
	task.Status = status
	r.tasks[id] = task
	return true
}

// Active returns the tasks whose status is active, ordered by id
func (r *Registry) Active() []TaskStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]TaskStatus, 0)
	for _, task := range r.tasks {
		if task.Status == StatusActive {
			active = append(active, task)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active
}
