package querycache

import (
	"context"

	"github.com/google/uuid"
)

// Task is a background fetch of one page for one query lifetime.
type Task struct {
	id   string
	page int
	gen  uint64
	done chan struct{}

	// stored is written before done is closed.
	stored bool
}

func newTask(gen uint64, page int) *Task {
	return &Task{
		id:   uuid.NewString(),
		page: page,
		gen:  gen,
		done: make(chan struct{}),
	}
}

// ID identifies the task in logs.
func (t *Task) ID() string { return t.id }

// Page is the page number being fetched.
func (t *Task) Page() int { return t.page }

// Done is closed when the fetch finished, stored or discarded.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stored reports whether the fetched page made it into the cache. It is
// false while the task runs and when the query changed before it finished.
func (t *Task) Stored() bool {
	select {
	case <-t.done:
		return t.stored
	default:
		return false
	}
}
