package device

import (
	"context"
)

// StateStore persists the device State of a single instance id.
type StateStore interface {
	// Load returns the stored state, or the zero State when nothing is stored yet.
	Load(ctx context.Context) (State, error)

	// Save replaces the stored state.
	Save(ctx context.Context, state State) error

	// Clear forgets everything, including the interest set.
	Clear(ctx context.Context) error
}

// JobQueue is the durable FIFO backing the server sync handler.
// Jobs survive restarts; undecodable entries are dropped by the implementation.
type JobQueue interface {
	// Push appends a job to the tail.
	Push(ctx context.Context, job Job) error

	// Peek returns the head job, or nil when the queue is empty.
	Peek(ctx context.Context) (*Job, error)

	// Pop removes the head job. Popping an empty queue is a no-op.
	Pop(ctx context.Context) error

	// List returns every queued job in order.
	List(ctx context.Context) ([]Job, error)

	// Clear empties the queue.
	Clear(ctx context.Context) error
}
