package lane

import (
	"fmt"
)

// TaskDroppedError is returned when a task is dropped due to backpressure.
type TaskDroppedError struct {
	LaneName string
	TaskID   string
}

func (e *TaskDroppedError) Error() string {
	return fmt.Sprintf("task %s dropped in lane %s due to backpressure", e.TaskID, e.LaneName)
}

// TaskDuplicateError is returned when a duplicate task is submitted.
type TaskDuplicateError struct {
	LaneName string
	TaskID   string
}

func (e *TaskDuplicateError) Error() string {
	return fmt.Sprintf("task %s is duplicate in lane %s", e.TaskID, e.LaneName)
}

// IsTaskDroppedError returns true if the error is a TaskDroppedError.
func IsTaskDroppedError(err error) bool {
	_, ok := err.(*TaskDroppedError)
	return ok
}

// IsTaskDuplicateError returns true if the error is a TaskDuplicateError.
func IsTaskDuplicateError(err error) bool {
	_, ok := err.(*TaskDuplicateError)
	return ok
}
