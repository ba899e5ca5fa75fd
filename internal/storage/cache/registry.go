package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-pushnotifications/pkg/registry"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedRegistry adds read-aside caching of single devices to any DeviceRegistry.
type CachedRegistry struct {
	realStore registry.DeviceRegistry
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedRegistry(realStore registry.DeviceRegistry, cache CacheClient, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedRegistry) Get(ctx context.Context, instanceID, deviceID string) (*registry.Device, error) {
	key := s.cacheKey(instanceID, deviceID)

	var cached registry.Device
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Get(ctx, instanceID, deviceID)
	if err != nil {
		return nil, err
	}

	// a cache outage only costs us the optimisation
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

// List is not cached.
func (s *CachedRegistry) List(ctx context.Context, instanceID string) ([]registry.Device, error) {
	return s.realStore.List(ctx, instanceID)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedRegistry) Create(ctx context.Context, dev registry.Device) error {
	if err := s.realStore.Create(ctx, dev); err != nil {
		return err
	}
	return s.invalidate(ctx, dev.InstanceID, dev.ID)
}

func (s *CachedRegistry) Update(ctx context.Context, instanceID, deviceID string, fn func(*registry.Device) error) error {
	if err := s.realStore.Update(ctx, instanceID, deviceID, fn); err != nil {
		return err
	}
	return s.invalidate(ctx, instanceID, deviceID)
}

// Delete clears the cache even when the device is already gone.
func (s *CachedRegistry) Delete(ctx context.Context, instanceID, deviceID string) error {
	if err := s.realStore.Delete(ctx, instanceID, deviceID); err != nil {
		return err
	}
	return s.invalidate(ctx, instanceID, deviceID)
}

// --- Helpers ---

func (s *CachedRegistry) invalidate(ctx context.Context, instanceID, deviceID string) error {
	return s.cache.Del(ctx, s.cacheKey(instanceID, deviceID))
}

func (s *CachedRegistry) cacheKey(instanceID, deviceID string) string {
	return fmt.Sprintf("pushnotifications:devices:%s:%s", instanceID, deviceID)
}
