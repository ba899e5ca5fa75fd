package devserver_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-pushnotifications/devserver"
	"github.com/tinywideclouds/go-pushnotifications/devserver/config"
	"github.com/tinywideclouds/go-pushnotifications/internal/deviceapi"
	"github.com/tinywideclouds/go-pushnotifications/internal/storage/memory"
	"github.com/tinywideclouds/go-pushnotifications/pkg/registry"
	"github.com/tinywideclouds/go-pushnotifications/pushnotifications"
)

const instanceID = "123e4567-e89b-12d3-a456-426614174000"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	cfg := &config.Config{ListenAddr: ":0", JWTSecret: "secret"}

	_, err := devserver.New(cfg, nil, newTestLogger())
	assert.Error(t, err)

	svc, err := devserver.New(cfg, memory.NewRegistry(), newTestLogger())
	require.NoError(t, err)
	assert.NotNil(t, svc.Reports)
}

func TestServiceWithSDK(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := &config.Config{ListenAddr: ":0", JWTSecret: "secret"}
	svc, err := devserver.New(cfg, memory.NewRegistry(), newTestLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(svc.Mux())
	defer srv.Close()

	pn, err := pushnotifications.New(instanceID,
		pushnotifications.WithLogger(newTestLogger()),
		pushnotifications.WithBaseURL(srv.URL+deviceapi.DeviceAPIPrefix),
		pushnotifications.WithReportingBaseURL(srv.URL+deviceapi.ReportingAPIPrefix),
		pushnotifications.WithRetry(time.Millisecond, 10*time.Millisecond),
		pushnotifications.WithDeviceToken("fcm-token"),
	)
	require.NoError(t, err)
	defer pn.Close()

	require.NoError(t, pn.Start(ctx))
	require.NoError(t, pn.Subscribe(ctx, "donuts"))
	require.NoError(t, pn.Flush(ctx))

	resp, err := http.Get(srv.URL + deviceapi.DeviceAPIPrefix + "/instances/" + instanceID + "/devices/fcm")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var devices []registry.Device
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&devices))
	require.Len(t, devices, 1)
	assert.Equal(t, []string{"donuts"}, devices[0].Interests)
}
