package pushnotifications

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-pushnotifications/internal/api"
	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
	"github.com/tinywideclouds/go-pushnotifications/pushnotifications/config"
)

type options struct {
	logger               *slog.Logger
	httpClient           *http.Client
	baseURL              string
	reportingBaseURL     string
	stateStore           device.StateStore
	jobQueue             device.JobQueue
	sqlitePath           string
	deviceToken          string
	metadata             *device.Metadata
	retry                api.RetryStrategy
	tokenProviderTimeout time.Duration
	deliveryTracking     bool
}

// Option configures an Instance.
type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithBaseURL replaces the hosted device API, e.g. with a dev server's
// http://localhost:8080/device_api/v1.
func WithBaseURL(base string) Option {
	return func(o *options) { o.baseURL = base }
}

func WithReportingBaseURL(base string) Option {
	return func(o *options) { o.reportingBaseURL = base }
}

// WithStateStore and WithJobQueue plug in custom persistence. Without them,
// and without WithSQLitePath, state lives in memory.
func WithStateStore(store device.StateStore) Option {
	return func(o *options) { o.stateStore = store }
}

func WithJobQueue(queue device.JobQueue) Option {
	return func(o *options) { o.jobQueue = queue }
}

// WithSQLitePath keeps device state and pending jobs in a SQLite file so they
// survive restarts.
func WithSQLitePath(path string) Option {
	return func(o *options) { o.sqlitePath = path }
}

// WithDeviceToken registers the device with this messaging token on Start.
func WithDeviceToken(token string) Option {
	return func(o *options) { o.deviceToken = token }
}

func WithMetadata(md device.Metadata) Option {
	return func(o *options) { o.metadata = &md }
}

// WithRetry sets the backoff used for queued device API calls.
func WithRetry(initialInterval, maxInterval time.Duration) Option {
	return func(o *options) {
		o.retry = api.ExponentialRetry{InitialInterval: initialInterval, MaxInterval: maxInterval}
	}
}

func WithTokenProviderTimeout(d time.Duration) Option {
	return func(o *options) { o.tokenProviderTimeout = d }
}

// WithDeliveryTracking turns on delivery and open receipts.
func WithDeliveryTracking(enabled bool) Option {
	return func(o *options) { o.deliveryTracking = enabled }
}

// WithConfig applies a loaded configuration. Options given after it win.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.baseURL = cfg.BaseURL
		o.reportingBaseURL = cfg.ReportingBaseURL
		o.deviceToken = cfg.DeviceToken
		o.deliveryTracking = cfg.DeliveryTracking
		o.tokenProviderTimeout = cfg.TokenProvider.Timeout
		if cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval > 0 {
			o.retry = api.ExponentialRetry{InitialInterval: cfg.Retry.InitialInterval, MaxInterval: cfg.Retry.MaxInterval}
		}
		if cfg.State.Driver == config.StateSQLite {
			o.sqlitePath = cfg.State.Path
		}
	}
}
