//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-pushnotifications/internal/storage/firestore"
	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
	"github.com/tinywideclouds/go-pushnotifications/pkg/registry"
)

func setupSuite(t *testing.T) (context.Context, *fs.FirestoreRegistry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-device-registry"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, fs.NewFirestoreRegistry(client)
}

func TestDeviceRegistry_Integration(t *testing.T) {
	ctx, reg := setupSuite(t)
	const instanceID = "8a070eaa-033f-46d6-bb90-f4c15acc47e1"

	dev := registry.Device{
		ID:         "device-1",
		InstanceID: instanceID,
		Token:      "token-android-1",
		Interests:  []string{"donuts"},
		Metadata:   device.Metadata{SDKVersion: "1.4.0", OSVersion: "linux/amd64"},
		UpdatedAt:  time.Now().UTC(),
	}

	t.Run("Device lifecycle", func(t *testing.T) {
		require.NoError(t, reg.Create(ctx, dev))

		got, err := reg.Get(ctx, instanceID, dev.ID)
		require.NoError(t, err)
		assert.Equal(t, dev.Token, got.Token)
		assert.Equal(t, []string{"donuts"}, got.Interests)
		assert.Equal(t, dev.Metadata, got.Metadata)

		err = reg.Update(ctx, instanceID, dev.ID, func(d *registry.Device) error {
			d.Interests = append(d.Interests, "bagels")
			d.UserID = "alice"
			return nil
		})
		require.NoError(t, err)

		got, err = reg.Get(ctx, instanceID, dev.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"donuts", "bagels"}, got.Interests)
		assert.Equal(t, "alice", got.UserID)

		list, err := reg.List(ctx, instanceID)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, reg.Delete(ctx, instanceID, dev.ID))
		_, err = reg.Get(ctx, instanceID, dev.ID)
		assert.ErrorIs(t, err, registry.ErrDeviceNotFound)
	})

	t.Run("Unknown device", func(t *testing.T) {
		_, err := reg.Get(ctx, instanceID, "missing")
		assert.ErrorIs(t, err, registry.ErrDeviceNotFound)

		err = reg.Update(ctx, instanceID, "missing", func(d *registry.Device) error { return nil })
		assert.ErrorIs(t, err, registry.ErrDeviceNotFound)

		assert.NoError(t, reg.Delete(ctx, instanceID, "missing"))
	})
}
