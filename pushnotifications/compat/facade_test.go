package compat_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-pushnotifications/pkg/auth"
	"github.com/tinywideclouds/go-pushnotifications/pushnotifications"
	"github.com/tinywideclouds/go-pushnotifications/pushnotifications/compat"
)

const (
	instanceA = "123e4567-e89b-12d3-a456-426614174000"
	instanceB = "8a070eaa-033f-46d6-bb90-f4c15acc47e1"
)

func quiet() pushnotifications.Option {
	return pushnotifications.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newFacade(t *testing.T) *compat.Facade {
	t.Helper()
	f := compat.NewFacade()
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestNotStarted(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	noop := func([]string) {}

	assert.ErrorIs(t, f.Subscribe(ctx, "x"), compat.ErrNotStarted)
	assert.ErrorIs(t, f.Unsubscribe(ctx, "x"), compat.ErrNotStarted)
	assert.ErrorIs(t, f.UnsubscribeAll(ctx), compat.ErrNotStarted)
	assert.ErrorIs(t, f.SetSubscriptions(ctx, []string{"a"}), compat.ErrNotStarted)
	_, err := f.Subscriptions(ctx)
	assert.ErrorIs(t, err, compat.ErrNotStarted)
	assert.ErrorIs(t, f.SetUserID(ctx, "alice", auth.TokenProviderFunc(nil), nil), compat.ErrNotStarted)
	assert.ErrorIs(t, f.SetOnMessageReceivedListener(func(pushnotifications.Message) {}), compat.ErrNotStarted)
	assert.ErrorIs(t, f.SetOnDeviceInterestsChangedListener(noop), compat.ErrNotStarted)
	assert.ErrorIs(t, f.SetOnSubscriptionsChangedListener(noop), compat.ErrNotStarted)
	assert.ErrorIs(t, f.Stop(ctx), compat.ErrNotStarted)
	assert.ErrorIs(t, f.ClearAllState(ctx), compat.ErrNotStarted)
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("Same instance id is idempotent", func(t *testing.T) {
		f := newFacade(t)
		first, err := f.Start(ctx, instanceA, quiet())
		require.NoError(t, err)
		second, err := f.Start(ctx, instanceA, quiet())
		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("Different instance id conflicts", func(t *testing.T) {
		f := newFacade(t)
		_, err := f.Start(ctx, instanceA, quiet())
		require.NoError(t, err)

		_, err = f.Start(ctx, instanceB, quiet())
		var conflict *compat.ConfigurationConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Contains(t, err.Error(), instanceA)
		assert.Contains(t, err.Error(), instanceB)
		assert.Contains(t, err.Error(), "pushnotifications.New")
	})

	t.Run("Concurrent starts share one instance", func(t *testing.T) {
		f := newFacade(t)
		var wg sync.WaitGroup
		handles := make([]*pushnotifications.Instance, 8)
		for i := range handles {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h, err := f.Start(ctx, instanceA, quiet())
				assert.NoError(t, err)
				handles[i] = h
			}()
		}
		wg.Wait()
		for _, h := range handles {
			assert.Same(t, handles[0], h)
		}
	})

	t.Run("Close allows another instance id", func(t *testing.T) {
		f := newFacade(t)
		_, err := f.Start(ctx, instanceA, quiet())
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = f.Start(ctx, instanceB, quiet())
		assert.NoError(t, err)
	})
}

func TestSubscriptions(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	_, err := f.Start(ctx, instanceA, quiet())
	require.NoError(t, err)

	var changes [][]string
	require.NoError(t, f.SetOnSubscriptionsChangedListener(func(in []string) { changes = append(changes, in) }))

	require.NoError(t, f.SetSubscriptions(ctx, []string{"a", "b"}))
	got, err := f.Subscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, [][]string{{"a", "b"}}, changes)

	require.NoError(t, f.Unsubscribe(ctx, "a"))
	require.NoError(t, f.Subscribe(ctx, "c"))
	got, _ = f.Subscriptions(ctx)
	assert.Equal(t, []string{"b", "c"}, got)

	require.NoError(t, f.Stop(ctx))
	got, _ = f.Subscriptions(ctx)
	assert.Empty(t, got)
}

func TestDefaultFacade(t *testing.T) {
	ctx := context.Background()
	t.Cleanup(func() { _ = compat.Default().Close() })

	assert.ErrorIs(t, compat.Subscribe(ctx, "x"), compat.ErrNotStarted)

	_, err := compat.Start(ctx, instanceA, quiet())
	require.NoError(t, err)
	require.NoError(t, compat.Subscribe(ctx, "x"))

	got, err := compat.Subscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got)

	_, err = compat.Start(ctx, instanceB, quiet())
	var conflict *compat.ConfigurationConflictError
	assert.ErrorAs(t, err, &conflict)
}
