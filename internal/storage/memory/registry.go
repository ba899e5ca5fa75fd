// Package memory is an in-process device registry for the dev server.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/tinywideclouds/go-pushnotifications/pkg/registry"
)

type key struct {
	instanceID string
	deviceID   string
}

type Registry struct {
	mu      sync.RWMutex
	devices map[key]registry.Device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[key]registry.Device)}
}

func clone(dev registry.Device) registry.Device {
	dev.Interests = slices.Clone(dev.Interests)
	return dev
}

func (r *Registry) Create(_ context.Context, dev registry.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[key{dev.InstanceID, dev.ID}] = clone(dev)
	return nil
}

func (r *Registry) Get(_ context.Context, instanceID, deviceID string) (*registry.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[key{instanceID, deviceID}]
	if !ok {
		return nil, registry.ErrDeviceNotFound
	}
	out := clone(dev)
	return &out, nil
}

func (r *Registry) Update(_ context.Context, instanceID, deviceID string, fn func(*registry.Device) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{instanceID, deviceID}
	dev, ok := r.devices[k]
	if !ok {
		return registry.ErrDeviceNotFound
	}
	dev = clone(dev)
	if err := fn(&dev); err != nil {
		return err
	}
	r.devices[k] = dev
	return nil
}

func (r *Registry) Delete(_ context.Context, instanceID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, key{instanceID, deviceID})
	return nil
}

// List returns devices ordered by id.
func (r *Registry) List(_ context.Context, instanceID string) ([]registry.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := make([]registry.Device, 0)
	for k, dev := range r.devices {
		if k.instanceID == instanceID {
			devices = append(devices, clone(dev))
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}
