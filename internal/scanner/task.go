package scanner

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a scan task.
type Status string

// Task states. A task terminates exactly once, as completed or failed.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DefaultRetention is how long finished tasks stay queryable.
const DefaultRetention = time.Hour

var (
	// ErrTaskNotFound is returned for an unknown task ID.
	ErrTaskNotFound = errors.New("scan task not found")
	// ErrTaskFinished is returned when completing or failing a task that
	// already terminated.
	ErrTaskFinished = errors.New("scan task already finished")
)

// Summary counts the outcome of one scan. Total = New + Existing + Errors.
type Summary struct {
	Total    int `json:"total"`
	New      int `json:"new"`
	Existing int `json:"existing"`
	Errors   int `json:"errors"`
}

// Task is the externally observable state of one scan.
type Task struct {
	ID          string     `json:"id"`
	Root        string     `json:"root"`
	Status      Status     `json:"status"`
	Processed   int        `json:"processed"`
	Total       int        `json:"total"`
	CurrentItem *string    `json:"current_item"`
	Result      *Summary   `json:"result"`
	Error       *string    `json:"error"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
}

// Terminal reports whether the task has completed or failed.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

func (t *Task) clone() Task {
	c := *t
	if t.CurrentItem != nil {
		v := *t.CurrentItem
		c.CurrentItem = &v
	}
	if t.Result != nil {
		v := *t.Result
		c.Result = &v
	}
	if t.Error != nil {
		v := *t.Error
		c.Error = &v
	}
	if t.FinishedAt != nil {
		v := *t.FinishedAt
		c.FinishedAt = &v
	}
	return c
}

// Registry tracks scan tasks in memory. The mutex is held only around map
// access.
type Registry struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	retention time.Duration
	now       func() time.Time
}

// NewRegistry creates a registry that forgets finished tasks after
// retention. A non-positive retention uses DefaultRetention.
func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		tasks:     make(map[string]*Task),
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a pending task for root and returns its ID.
func (r *Registry) Create(root string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked()
	return r.createLocked(root)
}

// TryCreate is Create guarded against overlap: it returns ErrScanInProgress
// when a pending or running task already exists for root.
func (r *Registry) TryCreate(root string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked()
	if r.activeLocked(root) != nil {
		return "", ErrScanInProgress
	}
	return r.createLocked(root), nil
}

func (r *Registry) createLocked(root string) string {
	id := uuid.New().String()
	r.tasks[id] = &Task{
		ID:        id,
		Root:      root,
		Status:    StatusPending,
		StartedAt: r.now(),
	}
	return id
}

// UpdateProgress records loop progress and moves a pending task to running.
// Processed never decreases. Updates to unknown or finished tasks are ignored.
func (r *Registry) UpdateProgress(id string, processed, total int, current string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Terminal() {
		return
	}
	t.Status = StatusRunning
	if processed > t.Processed {
		t.Processed = processed
	}
	if total > t.Total {
		t.Total = total
	}
	if current != "" {
		t.CurrentItem = &current
	}
}

// Complete marks a task completed with its summary.
func (r *Registry) Complete(id string, summary Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.finishLocked(id)
	if err != nil {
		return err
	}
	t.Status = StatusCompleted
	t.Result = &summary
	return nil
}

// Fail marks a task failed with a message.
func (r *Registry) Fail(id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.finishLocked(id)
	if err != nil {
		return err
	}
	t.Status = StatusFailed
	t.Error = &message
	return nil
}

func (r *Registry) finishLocked(id string) (*Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if t.Terminal() {
		return nil, ErrTaskFinished
	}
	now := r.now()
	t.FinishedAt = &now
	return t, nil
}

// Get returns a copy of the task.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// Active returns the pending or running task for root, if any.
func (r *Registry) Active(root string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.activeLocked(root)
	if t == nil {
		return Task{}, false
	}
	return t.clone(), true
}

func (r *Registry) activeLocked(root string) *Task {
	for _, t := range r.tasks {
		if t.Root == root && !t.Terminal() {
			return t
		}
	}
	return nil
}

// CleanupOld drops finished tasks older than the retention window and
// returns how many were removed.
func (r *Registry) CleanupOld() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanupLocked()
}

func (r *Registry) cleanupLocked() int {
	cutoff := r.now().Add(-r.retention)
	removed := 0
	for id, t := range r.tasks {
		if t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}
