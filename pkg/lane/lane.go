// Package lane provides a bounded worker pool, which the fusion engine uses
// to dispatch per-device evaluation, and token/leaky bucket rate limiters.
package lane

import (
	"context"
	"fmt"
)

// Task represents a unit of work that can be submitted to a worker pool.
type Task interface {
	// ID returns the unique identifier of the task.
	ID() string

	// Priority returns the priority of the task (higher = more important).
	Priority() int

	// Lane returns the logical lane name this task belongs to, used only
	// for labeling metrics and errors.
	Lane() string
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc struct {
	id       string
	priority int
	lane     string
	fn       func(ctx context.Context) error
}

// NewTaskFunc creates a new TaskFunc.
func NewTaskFunc(id, lane string, priority int, fn func(ctx context.Context) error) *TaskFunc {
	return &TaskFunc{
		id:       id,
		lane:     lane,
		priority: priority,
		fn:       fn,
	}
}

// ID implements Task.ID.
func (t *TaskFunc) ID() string {
	return t.id
}

// Priority implements Task.Priority.
func (t *TaskFunc) Priority() int {
	return t.priority
}

// Lane implements Task.Lane.
func (t *TaskFunc) Lane() string {
	return t.lane
}

// Execute executes the task function.
func (t *TaskFunc) Execute(ctx context.Context) error {
	if t.fn == nil {
		return fmt.Errorf("task function is nil")
	}
	return t.fn(ctx)
}
