// Package state serializes access to a device.StateStore so the SDK handle
// and the server sync worker never interleave read-modify-write cycles.
package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
)

type Store struct {
	mu      sync.Mutex
	backend device.StateStore
}

func New(backend device.StateStore) *Store {
	return &Store{backend: backend}
}

func (s *Store) Get(ctx context.Context) (device.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.backend.Load(ctx)
	if err != nil {
		return device.State{}, fmt.Errorf("load device state: %w", err)
	}
	return st, nil
}

// Update loads the state, applies fn and saves the result. Nothing is saved
// when fn returns an error or reports no change.
func (s *Store) Update(ctx context.Context, fn func(*device.State) (bool, error)) (device.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.backend.Load(ctx)
	if err != nil {
		return device.State{}, fmt.Errorf("load device state: %w", err)
	}
	changed, err := fn(&st)
	if err != nil {
		return st, err
	}
	if !changed {
		return st, nil
	}
	if err := s.backend.Save(ctx, st); err != nil {
		return st, fmt.Errorf("save device state: %w", err)
	}
	return st, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Clear(ctx)
}
