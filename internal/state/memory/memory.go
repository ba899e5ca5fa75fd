// Package memory keeps device state and the job queue in process memory.
// Nothing survives a restart; it backs tests and short-lived hosts.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
)

type StateStore struct {
	mu    sync.Mutex
	state device.State
}

func NewStateStore() *StateStore {
	return &StateStore{}
}

func (s *StateStore) Load(_ context.Context) (device.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Interests = slices.Clone(s.state.Interests)
	return st, nil
}

func (s *StateStore) Save(_ context.Context, st device.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Interests = slices.Clone(st.Interests)
	s.state = st
	return nil
}

func (s *StateStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = device.State{}
	return nil
}

type JobQueue struct {
	mu   sync.Mutex
	jobs []device.Job
}

func NewJobQueue() *JobQueue {
	return &JobQueue{}
}

func (q *JobQueue) Push(_ context.Context, job device.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *JobQueue) Peek(_ context.Context) (*device.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	return &job, nil
}

func (q *JobQueue) Pop(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) > 0 {
		q.jobs = q.jobs[1:]
	}
	return nil
}

func (q *JobQueue) List(_ context.Context) ([]device.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.jobs), nil
}

func (q *JobQueue) Clear(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = nil
	return nil
}
