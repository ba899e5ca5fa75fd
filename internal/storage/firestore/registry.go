package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-pushnotifications/pkg/registry"
)

// FirestoreRegistry implements registry.DeviceRegistry using Google Cloud Firestore.
type FirestoreRegistry struct {
	client *firestore.Client
}

func NewFirestoreRegistry(client *firestore.Client) *FirestoreRegistry {
	return &FirestoreRegistry{client: client}
}

func (s *FirestoreRegistry) Create(ctx context.Context, dev registry.Device) error {
	if _, err := s.deviceRef(dev.InstanceID, dev.ID).Create(ctx, dev); err != nil {
		return fmt.Errorf("firestore create device %s: %w", dev.ID, err)
	}
	return nil
}

func (s *FirestoreRegistry) Get(ctx context.Context, instanceID, deviceID string) (*registry.Device, error) {
	snap, err := s.deviceRef(instanceID, deviceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, registry.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("firestore get device %s: %w", deviceID, err)
	}

	var dev registry.Device
	if err := snap.DataTo(&dev); err != nil {
		return nil, fmt.Errorf("decode device %s: %w", deviceID, err)
	}
	return &dev, nil
}

// Update runs fn inside a transaction so concurrent writes to one device
// are serialized.
func (s *FirestoreRegistry) Update(ctx context.Context, instanceID, deviceID string, fn func(*registry.Device) error) error {
	ref := s.deviceRef(instanceID, deviceID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return registry.ErrDeviceNotFound
			}
			return err
		}
		var dev registry.Device
		if err := snap.DataTo(&dev); err != nil {
			return fmt.Errorf("decode device %s: %w", deviceID, err)
		}
		if err := fn(&dev); err != nil {
			return err
		}
		return tx.Set(ref, dev)
	})
	if err != nil && !errors.Is(err, registry.ErrDeviceNotFound) {
		return fmt.Errorf("firestore update device %s: %w", deviceID, err)
	}
	return err
}

func (s *FirestoreRegistry) Delete(ctx context.Context, instanceID, deviceID string) error {
	if _, err := s.deviceRef(instanceID, deviceID).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete device %s: %w", deviceID, err)
	}
	return nil
}

func (s *FirestoreRegistry) List(ctx context.Context, instanceID string) ([]registry.Device, error) {
	iter := s.devicesCollection(instanceID).Documents(ctx)
	defer iter.Stop()

	devices := make([]registry.Device, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var dev registry.Device
		if err := doc.DataTo(&dev); err != nil {
			// skip corrupt rows
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// deviceRef: instances/{instanceID}/devices/{deviceID}
func (s *FirestoreRegistry) deviceRef(instanceID, deviceID string) *firestore.DocumentRef {
	return s.devicesCollection(instanceID).Doc(deviceID)
}

func (s *FirestoreRegistry) devicesCollection(instanceID string) *firestore.CollectionRef {
	return s.client.Collection("instances").Doc(instanceID).Collection("devices")
}
