// Package registry defines the server-side view of registered devices used by
// the device API dev server.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
)

// ErrDeviceNotFound is returned when no device exists for an instance/device id pair.
var ErrDeviceNotFound = errors.New("device not found")

// Device is a registered device as the server stores it.
type Device struct {
	ID         string          `json:"id" firestore:"id"`
	InstanceID string          `json:"instanceId" firestore:"instance_id"`
	Token      string          `json:"token" firestore:"token"`
	UserID     string          `json:"userId,omitempty" firestore:"user_id,omitempty"`
	Interests  []string        `json:"interests" firestore:"interests"`
	Metadata   device.Metadata `json:"metadata" firestore:"metadata"`
	UpdatedAt  time.Time       `json:"updatedAt" firestore:"updated_at"`
}

// DeviceRegistry stores devices per instance.
type DeviceRegistry interface {
	// Create stores a new device. The device ID is assigned by the caller.
	Create(ctx context.Context, dev Device) error

	// Get returns ErrDeviceNotFound for unknown devices.
	Get(ctx context.Context, instanceID, deviceID string) (*Device, error)

	// Update applies fn to the stored device and saves the result.
	// It returns ErrDeviceNotFound for unknown devices.
	Update(ctx context.Context, instanceID, deviceID string, fn func(*Device) error) error

	// Delete removes the device. Deleting an unknown device is not an error.
	Delete(ctx context.Context, instanceID, deviceID string) error

	// List returns every device of an instance.
	List(ctx context.Context, instanceID string) ([]Device, error)
}
