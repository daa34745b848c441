package pipeline

import "golang.org/x/sync/errgroup"

// Executor runs producer tasks
type Executor interface {
	Go(func())
}

// GroupExecutor runs each task on its own goroutine and can wait for all
// of them.
type GroupExecutor struct {
	group errgroup.Group
}

// NewGroupExecutor creates an executor
func NewGroupExecutor() *GroupExecutor {
	return &GroupExecutor{}
}

// Go starts fn on a new goroutine
func (e *GroupExecutor) Go(fn func()) {
	e.group.Go(func() error {
		fn()
		return nil
	})
}

// Wait blocks until every task started so far has returned
func (e *GroupExecutor) Wait() error {
	return e.group.Wait()
}
