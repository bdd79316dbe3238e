package lane

import (
	"context"
	"errors"
	"testing"
)

func TestTaskFunc_Execute(t *testing.T) {
	ran := false
	task := NewTaskFunc("t-1", "eval", 5, func(ctx context.Context) error {
		ran = true
		return nil
	})

	if task.ID() != "t-1" || task.Lane() != "eval" || task.Priority() != 5 {
		t.Fatalf("unexpected task accessors: %+v", task)
	}

	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("expected task function to run")
	}
}

func TestTaskFunc_ExecuteNilFunc(t *testing.T) {
	task := NewTaskFunc("t-2", "eval", 0, nil)
	if err := task.Execute(context.Background()); err == nil {
		t.Error("expected error executing task with nil function")
	}
}

func TestTaskDroppedError(t *testing.T) {
	err := &TaskDroppedError{LaneName: "eval", TaskID: "t-3"}
	if !IsTaskDroppedError(err) {
		t.Error("expected IsTaskDroppedError to return true")
	}
	if IsTaskDroppedError(errors.New("other")) {
		t.Error("expected IsTaskDroppedError to return false for unrelated error")
	}
}

func TestTaskDuplicateError(t *testing.T) {
	err := &TaskDuplicateError{LaneName: "eval", TaskID: "t-4"}
	if !IsTaskDuplicateError(err) {
		t.Error("expected IsTaskDuplicateError to return true")
	}
	if IsTaskDuplicateError(errors.New("other")) {
		t.Error("expected IsTaskDuplicateError to return false for unrelated error")
	}
}
