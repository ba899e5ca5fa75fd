package sqlite_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-pushnotifications/internal/state/sqlite"
	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "push.db")
	db, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestStateStore(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)

	store := sqlite.NewStateStore(db, "instance-a")
	other := sqlite.NewStateStore(db, "instance-b")

	t.Run("Empty store loads zero state", func(t *testing.T) {
		st, err := store.Load(ctx)
		require.NoError(t, err)
		assert.False(t, st.Registered())
		assert.Empty(t, st.Interests)
	})

	t.Run("Save and load round trip per instance", func(t *testing.T) {
		want := device.State{
			DeviceID:                     "dev-1",
			DeviceToken:                  "tok",
			UserID:                       "alice",
			OSVersion:                    "linux",
			SDKVersion:                   "1.0.0",
			ServerConfirmedInterestsHash: device.InterestsHash([]string{"a", "b"}),
			Interests:                    []string{"b", "a"},
			StartHasBeenCalled:           true,
		}
		require.NoError(t, store.Save(ctx, want))

		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "dev-1", got.DeviceID)
		assert.Equal(t, "alice", got.UserID)
		assert.True(t, got.StartHasBeenCalled)
		assert.Equal(t, []string{"a", "b"}, got.Interests)

		untouched, err := other.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, untouched.DeviceID)
	})

	t.Run("Clear forgets everything", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))
		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, got.DeviceID)
		assert.Empty(t, got.Interests)
	})
}

func TestJobQueue(t *testing.T) {
	ctx := context.Background()
	db, path := openTestDB(t)
	q := sqlite.NewJobQueue(db, "instance-a", newTestLogger())

	require.NoError(t, q.Push(ctx, device.SubscribeJob("a")))
	require.NoError(t, q.Push(ctx, device.StartJob("tok", nil)))
	require.NoError(t, q.Push(ctx, device.SetUserIDJob("alice")))

	t.Run("FIFO order", func(t *testing.T) {
		head, err := q.Peek(ctx)
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, device.JobSubscribe, head.Type)

		jobs, err := q.List(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, device.JobStart, jobs[1].Type)
		assert.Equal(t, "tok", jobs[1].Token)
		assert.Equal(t, "alice", jobs[2].UserID)
	})

	t.Run("Survives reopen", func(t *testing.T) {
		reopened, err := sqlite.Open(ctx, path)
		require.NoError(t, err)
		defer reopened.Close()

		jobs, err := sqlite.NewJobQueue(reopened, "instance-a", newTestLogger()).List(ctx)
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
	})

	t.Run("Undecodable rows are dropped", func(t *testing.T) {
		_, err := db.ExecContext(ctx,
			`INSERT INTO job_queue (instance_id, payload) VALUES (?, ?)`, "instance-a", []byte("{not json"))
		require.NoError(t, err)

		jobs, err := q.List(ctx)
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
	})

	t.Run("Pop and clear", func(t *testing.T) {
		require.NoError(t, q.Pop(ctx))
		head, err := q.Peek(ctx)
		require.NoError(t, err)
		assert.Equal(t, device.JobStart, head.Type)

		require.NoError(t, q.Clear(ctx))
		head, err = q.Peek(ctx)
		require.NoError(t, err)
		assert.Nil(t, head)
		assert.NoError(t, q.Pop(ctx))
	})
}
