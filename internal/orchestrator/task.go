package orchestrator

import (
	"context"
	"sync"
)

// Kind names the workflow a task runs.
type Kind string

const (
	KindInstall Kind = "install"
	KindFlash   Kind = "flash"
)

// Task is a handle on a background workflow. Done is closed when the
// workflow returns; Err is only meaningful after that.
type Task struct {
	kind  Kind
	runID string

	done chan struct{}
	once sync.Once
	err  error
}

func newTask(kind Kind) *Task {
	return &Task{kind: kind, done: make(chan struct{})}
}

// Kind returns the workflow kind.
func (t *Task) Kind() Kind {
	return t.kind
}

// RunID returns the id of the persisted run record, or "" when runs are
// not recorded.
func (t *Task) RunID() string {
	return t.runID
}

// Done returns a channel closed when the workflow has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the workflow error once Done is closed, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the workflow finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}
