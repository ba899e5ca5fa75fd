package pushnotifications_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-pushnotifications/internal/deviceapi"
	"github.com/tinywideclouds/go-pushnotifications/internal/storage/memory"
	"github.com/tinywideclouds/go-pushnotifications/pkg/auth"
	"github.com/tinywideclouds/go-pushnotifications/pkg/registry"
	"github.com/tinywideclouds/go-pushnotifications/pushnotifications"
)

const (
	instanceID = "8a070eaa-033f-46d6-bb90-f4c15acc47e1"
	jwtSecret  = "test-secret"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	url     string
	reg     *memory.Registry
	reports *deviceapi.ReportLog
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := memory.NewRegistry()
	devices := deviceapi.NewDeviceAPI(reg, []byte(jwtSecret), newTestLogger())
	reports := deviceapi.NewReportLog(newTestLogger())

	mux := http.NewServeMux()
	deviceapi.Routes(mux, devices, reports, nil)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{url: srv.URL, reg: reg, reports: reports}
}

func (s *testServer) options(extra ...pushnotifications.Option) []pushnotifications.Option {
	opts := []pushnotifications.Option{
		pushnotifications.WithLogger(newTestLogger()),
		pushnotifications.WithBaseURL(s.url + deviceapi.DeviceAPIPrefix),
		pushnotifications.WithReportingBaseURL(s.url + deviceapi.ReportingAPIPrefix),
		pushnotifications.WithRetry(time.Millisecond, 10*time.Millisecond),
	}
	return append(opts, extra...)
}

func (s *testServer) device(t *testing.T, pn *pushnotifications.Instance) *registry.Device {
	t.Helper()
	deviceID, err := pn.DeviceID(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, deviceID, "device not registered")
	dev, err := s.reg.Get(context.Background(), instanceID, deviceID)
	require.NoError(t, err)
	return dev
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func startInstance(t *testing.T, srv *testServer, extra ...pushnotifications.Option) *pushnotifications.Instance {
	t.Helper()
	pn, err := pushnotifications.Start(testContext(t), instanceID, srv.options(extra...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pn.Close() })
	return pn
}

// userTokens signs a JWT for whichever user is asked for.
func userTokens(t *testing.T) auth.TokenProvider {
	return auth.TokenProviderFunc(func(ctx context.Context, userID string) (string, error) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		return token.SignedString([]byte(jwtSecret))
	})
}

type interestRecorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *interestRecorder) record(interests []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, interests)
}

func (r *interestRecorder) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func TestNew(t *testing.T) {
	_, err := pushnotifications.New("")
	assert.ErrorIs(t, err, pushnotifications.ErrEmptyInstanceID)
}

func TestSubscriptions(t *testing.T) {
	srv := newTestServer(t)

	t.Run("Local changes apply before registration", func(t *testing.T) {
		ctx := testContext(t)
		pn := startInstance(t, srv)
		rec := &interestRecorder{}
		pn.OnDeviceInterestsChanged(rec.record)

		require.NoError(t, pn.SetSubscriptions(ctx, []string{"a", "b", "a"}))
		got, err := pn.Subscriptions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got)
		assert.Equal(t, []string{"a", "b"}, rec.last())

		require.NoError(t, pn.Subscribe(ctx, "c"))
		require.NoError(t, pn.Unsubscribe(ctx, "a"))
		got, _ = pn.Subscriptions(ctx)
		assert.Equal(t, []string{"b", "c"}, got)

		require.NoError(t, pn.UnsubscribeAll(ctx))
		got, _ = pn.Subscriptions(ctx)
		assert.Empty(t, got)
		assert.Empty(t, rec.last())
	})

	t.Run("No-op changes do not notify", func(t *testing.T) {
		ctx := testContext(t)
		pn := startInstance(t, srv)
		rec := &interestRecorder{}

		require.NoError(t, pn.Subscribe(ctx, "a"))
		pn.OnDeviceInterestsChanged(rec.record)
		require.NoError(t, pn.Subscribe(ctx, "a"))
		require.NoError(t, pn.Unsubscribe(ctx, "zzz"))
		require.NoError(t, pn.SetSubscriptions(ctx, []string{"a"}))
		assert.Empty(t, rec.calls)
	})
}

func TestRegistration(t *testing.T) {
	t.Run("Registers on start and syncs interests", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv, pushnotifications.WithDeviceToken("token-1"))

		require.NoError(t, pn.Subscribe(ctx, "donuts"))
		require.NoError(t, pn.Flush(ctx))

		dev := srv.device(t, pn)
		assert.Equal(t, "token-1", dev.Token)
		assert.Equal(t, []string{"donuts"}, dev.Interests)
		assert.Equal(t, pushnotifications.SDKVersion, dev.Metadata.SDKVersion)
	})

	t.Run("Interests changed during registration are kept locally", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn, err := pushnotifications.New(instanceID, srv.options(pushnotifications.WithDeviceToken("token-1"))...)
		require.NoError(t, err)
		t.Cleanup(func() { _ = pn.Close() })
		rec := &interestRecorder{}
		pn.OnDeviceInterestsChanged(rec.record)

		require.NoError(t, pn.Start(ctx))
		require.NoError(t, pn.Subscribe(ctx, "a"))
		require.NoError(t, pn.Subscribe(ctx, "b"))
		require.NoError(t, pn.Unsubscribe(ctx, "b"))
		require.NoError(t, pn.Flush(ctx))

		local, err := pn.Subscriptions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, local)
		assert.Equal(t, []string{"a"}, srv.device(t, pn).Interests)
		assert.Equal(t, []string{"a"}, rec.last())
	})

	t.Run("Interests set before the token arrives are synced", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv)

		require.NoError(t, pn.Subscribe(ctx, "a"))
		require.NoError(t, pn.Subscribe(ctx, "b"))
		require.NoError(t, pn.Flush(ctx))
		id, _ := pn.DeviceID(ctx)
		assert.Empty(t, id)

		require.NoError(t, pn.SetDeviceToken(ctx, "token-1"))
		require.NoError(t, pn.Flush(ctx))

		assert.Equal(t, []string{"a", "b"}, srv.device(t, pn).Interests)
	})

	t.Run("New token is refreshed", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv, pushnotifications.WithDeviceToken("token-1"))
		require.NoError(t, pn.Flush(ctx))
		firstID, _ := pn.DeviceID(ctx)

		require.NoError(t, pn.SetDeviceToken(ctx, "token-2"))
		require.NoError(t, pn.Flush(ctx))

		dev := srv.device(t, pn)
		assert.Equal(t, firstID, dev.ID)
		assert.Equal(t, "token-2", dev.Token)
	})

	t.Run("Device deleted on the server is recreated", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv, pushnotifications.WithDeviceToken("token-1"))
		require.NoError(t, pn.Subscribe(ctx, "a"))
		require.NoError(t, pn.Flush(ctx))
		oldID, _ := pn.DeviceID(ctx)

		require.NoError(t, srv.reg.Delete(ctx, instanceID, oldID))
		require.NoError(t, pn.Subscribe(ctx, "b"))
		require.NoError(t, pn.Flush(ctx))

		dev := srv.device(t, pn)
		assert.NotEqual(t, oldID, dev.ID)
		assert.Equal(t, []string{"a", "b"}, dev.Interests)
	})
}

func TestFetchRemoteDevice(t *testing.T) {
	t.Run("Not registered", func(t *testing.T) {
		srv := newTestServer(t)
		pn := startInstance(t, srv)
		_, err := pn.FetchRemoteDevice(testContext(t))
		assert.ErrorIs(t, err, pushnotifications.ErrNotRegistered)
	})

	t.Run("Reads back the synced device", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv, pushnotifications.WithDeviceToken("token-1"))
		require.NoError(t, pn.SetSubscriptions(ctx, []string{"b", "a"}))
		require.NoError(t, pn.Flush(ctx))

		remote, err := pn.FetchRemoteDevice(ctx)
		require.NoError(t, err)
		deviceID, _ := pn.DeviceID(ctx)
		assert.Equal(t, deviceID, remote.ID)
		assert.Equal(t, []string{"a", "b"}, remote.Interests)
		assert.Empty(t, remote.UserID)
	})

	t.Run("Device missing on the server", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv, pushnotifications.WithDeviceToken("token-1"))
		require.NoError(t, pn.Flush(ctx))
		deviceID, _ := pn.DeviceID(ctx)
		require.NoError(t, srv.reg.Delete(ctx, instanceID, deviceID))

		_, err := pn.FetchRemoteDevice(ctx)
		assert.Error(t, err)
	})
}

func TestPersistence(t *testing.T) {
	srv := newTestServer(t)
	ctx := testContext(t)
	path := filepath.Join(t.TempDir(), "state.db")

	first, err := pushnotifications.Start(ctx, instanceID, srv.options(pushnotifications.WithSQLitePath(path))...)
	require.NoError(t, err)
	require.NoError(t, first.Subscribe(ctx, "kept"))
	require.NoError(t, first.Flush(ctx))
	require.NoError(t, first.Close())

	second := startInstance(t, srv,
		pushnotifications.WithSQLitePath(path),
		pushnotifications.WithDeviceToken("token-1"))

	got, err := second.Subscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, got)

	require.NoError(t, second.Flush(ctx))
	assert.Equal(t, []string{"kept"}, srv.device(t, second).Interests)
}

func TestSetUserID(t *testing.T) {
	t.Run("Precondition failures are synchronous", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv)

		assert.ErrorIs(t, pn.SetUserID(ctx, "", userTokens(t), nil), pushnotifications.ErrUserIDEmpty)
		assert.ErrorIs(t, pn.SetUserID(ctx, "alice", nil, nil), pushnotifications.ErrTokenProviderMissing)
	})

	t.Run("Binds the user and rejects another", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv, pushnotifications.WithDeviceToken("token-1"))

		done := make(chan error, 1)
		require.NoError(t, pn.SetUserID(ctx, "alice", userTokens(t), func(err error) { done <- err }))

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("callback not invoked")
		}
		assert.Equal(t, "alice", srv.device(t, pn).UserID)

		userID, err := pn.UserID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "alice", userID)

		err = pn.SetUserID(ctx, "bob", userTokens(t), nil)
		var another *pushnotifications.AlreadyRegisteredAnotherUserError
		require.ErrorAs(t, err, &another)
		assert.Equal(t, "alice", another.Current)
		assert.Equal(t, "bob", another.Requested)

		// same user again is fine
		done2 := make(chan error, 1)
		require.NoError(t, pn.SetUserID(ctx, "alice", userTokens(t), func(err error) { done2 <- err }))
		assert.NoError(t, <-done2)
	})

	t.Run("Provider error reaches the callback", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv, pushnotifications.WithDeviceToken("token-1"))

		boom := errors.New("auth backend down")
		failing := auth.TokenProviderFunc(func(context.Context, string) (string, error) { return "", boom })

		done := make(chan error, 1)
		require.NoError(t, pn.SetUserID(ctx, "alice", failing, func(err error) { done <- err }))

		err := <-done
		var cbErr *pushnotifications.CallbackError
		require.ErrorAs(t, err, &cbErr)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, srv.device(t, pn).UserID)
	})

	t.Run("Rejected token reaches the callback", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv, pushnotifications.WithDeviceToken("token-1"))

		forged := auth.TokenProviderFunc(func(context.Context, string) (string, error) { return "not-a-jwt", nil })

		done := make(chan error, 1)
		require.NoError(t, pn.SetUserID(ctx, "alice", forged, func(err error) { done <- err }))

		err := <-done
		var cbErr *pushnotifications.CallbackError
		require.ErrorAs(t, err, &cbErr)
		assert.Contains(t, cbErr.Message, "jwt rejected")
	})
}

func TestStop(t *testing.T) {
	srv := newTestServer(t)
	ctx := testContext(t)
	pn := startInstance(t, srv, pushnotifications.WithDeviceToken("token-1"))
	rec := &interestRecorder{}
	pn.OnDeviceInterestsChanged(rec.record)

	require.NoError(t, pn.Subscribe(ctx, "a"))
	done := make(chan error, 1)
	require.NoError(t, pn.SetUserID(ctx, "alice", userTokens(t), func(err error) { done <- err }))
	require.NoError(t, <-done)
	oldID := srv.device(t, pn).ID

	t.Run("Stop deletes the device and clears local state", func(t *testing.T) {
		require.NoError(t, pn.Stop(ctx))
		assert.Equal(t, []string{}, rec.last())

		got, err := pn.Subscriptions(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
		userID, _ := pn.UserID(ctx)
		assert.Empty(t, userID)

		require.NoError(t, pn.Flush(ctx))
		_, err = srv.reg.Get(ctx, instanceID, oldID)
		assert.ErrorIs(t, err, registry.ErrDeviceNotFound)
		id, _ := pn.DeviceID(ctx)
		assert.Empty(t, id)
	})

	t.Run("Start again registers a fresh device", func(t *testing.T) {
		require.NoError(t, pn.Start(ctx))
		require.NoError(t, pn.Flush(ctx))

		dev := srv.device(t, pn)
		assert.NotEqual(t, oldID, dev.ID)
		assert.Empty(t, dev.UserID)
		assert.Empty(t, dev.Interests)
	})
}

func TestClearAllState(t *testing.T) {
	srv := newTestServer(t)
	ctx := testContext(t)
	pn := startInstance(t, srv, pushnotifications.WithDeviceToken("token-1"))
	require.NoError(t, pn.Subscribe(ctx, "a"))
	require.NoError(t, pn.Flush(ctx))
	oldID := srv.device(t, pn).ID

	require.NoError(t, pn.ClearAllState(ctx))
	require.NoError(t, pn.Flush(ctx))

	dev := srv.device(t, pn)
	assert.NotEqual(t, oldID, dev.ID)
	assert.Empty(t, dev.Interests)
}

func TestHandleMessage(t *testing.T) {
	pusherData := `{"instanceId":"` + instanceID + `","hasDisplayableContent":true,"publishId":"pubid-1"}`

	t.Run("Delivers to the listener and reports delivery", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv, pushnotifications.WithDeliveryTracking(true))

		var received []pushnotifications.Message
		pn.OnMessageReceived(func(m pushnotifications.Message) { received = append(received, m) })

		pn.HandleMessage(ctx, pushnotifications.Message{Data: map[string]string{"pusherTokenValidation": "true"}})
		pn.HandleMessage(ctx, pushnotifications.Message{
			Data:         map[string]string{"pusher": pusherData},
			Notification: &pushnotifications.Notification{Title: "hi"},
		})

		require.Len(t, received, 1)
		assert.Equal(t, "hi", received[0].Notification.Title)

		require.NoError(t, pn.ReportOpened(ctx, received[0]))
		require.Eventually(t, func() bool {
			return len(srv.reports.Events(instanceID)) == 2
		}, 5*time.Second, 10*time.Millisecond)

		types := []string{}
		for _, ev := range srv.reports.Events(instanceID) {
			assert.Equal(t, "pubid-1", ev.PublishID)
			types = append(types, ev.EventType)
		}
		assert.ElementsMatch(t, []string{"Delivery", "Open"}, types)
	})

	t.Run("Tracking disabled by default", func(t *testing.T) {
		srv := newTestServer(t)
		ctx := testContext(t)
		pn := startInstance(t, srv)

		pn.HandleMessage(ctx, pushnotifications.Message{Data: map[string]string{"pusher": pusherData}})
		require.NoError(t, pn.Close())
		assert.Empty(t, srv.reports.Events(instanceID))
	})

	t.Run("Open without publish id", func(t *testing.T) {
		srv := newTestServer(t)
		pn := startInstance(t, srv)
		err := pn.ReportOpened(testContext(t), pushnotifications.Message{})
		assert.ErrorIs(t, err, pushnotifications.ErrNoPublishID)
	})
}
