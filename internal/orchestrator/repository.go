package orchestrator

import (
	"context"
	"sort"
	"sync"
)

// Repository persists tasks. Every status transition is a single Update.
type Repository interface {
	// Create assigns task.ID and stores the task.
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id int64) (*Task, error)
	Update(ctx context.Context, task *Task) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter ListFilter) ([]*Task, error)
}

// MemoryRepository is an in-memory implementation of Repository.
// It is thread-safe and suitable for single-instance deployments.
type MemoryRepository struct {
	mu     sync.RWMutex
	tasks  map[int64]*Task
	nextID int64
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new in-memory task repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[int64]*Task)}
}

// Create stores a copy of task under the next id.
func (r *MemoryRepository) Create(_ context.Context, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	task.ID = r.nextID
	r.tasks[task.ID] = task.Clone()
	return nil
}

// Get retrieves a task by id.
func (r *MemoryRepository) Get(_ context.Context, id int64) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Update replaces a stored task.
func (r *MemoryRepository) Update(_ context.Context, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; !ok {
		return ErrTaskNotFound
	}
	r.tasks[task.ID] = task.Clone()
	return nil
}

// Delete removes a task.
func (r *MemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}

// List returns matching tasks ordered by priority, then id.
func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return limitTasks(sortTasks(out), filter.Limit), nil
}

func sortTasks(tasks []*Task) []*Task {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

func limitTasks(tasks []*Task, limit int) []*Task {
	if limit > 0 && len(tasks) > limit {
		return tasks[:limit]
	}
	return tasks
}
