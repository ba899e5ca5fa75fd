// Package compat keeps the process-wide singleton API for code written
// against earlier SDK releases. New code should hold a
// *pushnotifications.Instance instead.
package compat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tinywideclouds/go-pushnotifications/pkg/auth"
	"github.com/tinywideclouds/go-pushnotifications/pushnotifications"
)

// ErrNotStarted is returned by every operation called before Start.
var ErrNotStarted = errors.New("push notifications not started: call Start first")

// ConfigurationConflictError rejects a Start for a second instance id.
type ConfigurationConflictError struct {
	CurrentInstanceID   string
	RequestedInstanceID string
}

func (e *ConfigurationConflictError) Error() string {
	return fmt.Sprintf(
		"push notifications already started with instance id %q, cannot start again with instance id %q; "+
			"to use more than one instance, create a handle per instance with pushnotifications.New",
		e.CurrentInstanceID, e.RequestedInstanceID)
}

// Facade holds at most one Instance.
type Facade struct {
	mu       sync.Mutex
	instance *pushnotifications.Instance
}

func NewFacade() *Facade {
	return &Facade{}
}

// Start builds and starts the Instance on first use. Starting again with the
// same instance id returns the existing handle.
func (f *Facade) Start(ctx context.Context, instanceID string, opts ...pushnotifications.Option) (*pushnotifications.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.instance != nil {
		if f.instance.InstanceID() != instanceID {
			return nil, &ConfigurationConflictError{
				CurrentInstanceID:   f.instance.InstanceID(),
				RequestedInstanceID: instanceID,
			}
		}
		if err := f.instance.Start(ctx); err != nil {
			return nil, err
		}
		return f.instance, nil
	}

	instance, err := pushnotifications.Start(ctx, instanceID, opts...)
	if err != nil {
		return nil, err
	}
	f.instance = instance
	return instance, nil
}

// Instance returns the started handle or ErrNotStarted.
func (f *Facade) Instance() (*pushnotifications.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.instance == nil {
		return nil, ErrNotStarted
	}
	return f.instance, nil
}

func (f *Facade) Subscribe(ctx context.Context, interest string) error {
	instance, err := f.Instance()
	if err != nil {
		return err
	}
	return instance.Subscribe(ctx, interest)
}

func (f *Facade) Unsubscribe(ctx context.Context, interest string) error {
	instance, err := f.Instance()
	if err != nil {
		return err
	}
	return instance.Unsubscribe(ctx, interest)
}

func (f *Facade) UnsubscribeAll(ctx context.Context) error {
	instance, err := f.Instance()
	if err != nil {
		return err
	}
	return instance.UnsubscribeAll(ctx)
}

func (f *Facade) SetSubscriptions(ctx context.Context, interests []string) error {
	instance, err := f.Instance()
	if err != nil {
		return err
	}
	return instance.SetSubscriptions(ctx, interests)
}

func (f *Facade) Subscriptions(ctx context.Context) ([]string, error) {
	instance, err := f.Instance()
	if err != nil {
		return nil, err
	}
	return instance.Subscriptions(ctx)
}

func (f *Facade) SetUserID(ctx context.Context, userID string, provider auth.TokenProvider, callback func(error)) error {
	instance, err := f.Instance()
	if err != nil {
		return err
	}
	return instance.SetUserID(ctx, userID, provider, callback)
}

func (f *Facade) SetOnMessageReceivedListener(fn func(pushnotifications.Message)) error {
	instance, err := f.Instance()
	if err != nil {
		return err
	}
	instance.OnMessageReceived(fn)
	return nil
}

func (f *Facade) SetOnDeviceInterestsChangedListener(fn func(interests []string)) error {
	instance, err := f.Instance()
	if err != nil {
		return err
	}
	instance.OnDeviceInterestsChanged(fn)
	return nil
}

// Deprecated: use SetOnDeviceInterestsChangedListener.
func (f *Facade) SetOnSubscriptionsChangedListener(fn func(interests []string)) error {
	return f.SetOnDeviceInterestsChangedListener(fn)
}

// Stop unregisters the device. The handle stays in place so Start with the
// same instance id brings it back.
func (f *Facade) Stop(ctx context.Context) error {
	instance, err := f.Instance()
	if err != nil {
		return err
	}
	return instance.Stop(ctx)
}

func (f *Facade) ClearAllState(ctx context.Context) error {
	instance, err := f.Instance()
	if err != nil {
		return err
	}
	return instance.ClearAllState(ctx)
}

// Close closes and forgets the handle, allowing Start with any instance id.
func (f *Facade) Close() error {
	f.mu.Lock()
	instance := f.instance
	f.instance = nil
	f.mu.Unlock()
	if instance == nil {
		return nil
	}
	return instance.Close()
}
