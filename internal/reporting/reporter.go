// Package reporting submits delivery and open receipts for published
// notifications. Reporting is best effort: events that cannot be delivered
// after a few attempts are dropped.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

type EventType string

const (
	EventDelivery EventType = "Delivery"
	EventOpen     EventType = "Open"
)

type Event struct {
	Type      EventType
	PublishID string
	Timestamp time.Time
}

type submitRequest struct {
	PublishID string `json:"publishId"`
	Timestamp int64  `json:"timestamp"`
}

// ErrUnrecoverable marks a 4xx answer; the event will never be accepted.
var ErrUnrecoverable = errors.New("reporting event rejected")

type Option func(*Client)

func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMaxRetries bounds retries of 5xx and transport failures.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithInitialInterval sets the first retry delay.
func WithInitialInterval(d time.Duration) Option {
	return func(c *Client) { c.initialInterval = d }
}

// WithBreakerSettings overrides how quickly reporting is switched off while
// the endpoint is failing.
func WithBreakerSettings(failureThreshold uint32, openTimeout time.Duration) Option {
	return func(c *Client) {
		c.failureThreshold = failureThreshold
		c.openTimeout = openTimeout
	}
}

type Client struct {
	instanceID      string
	baseURL         string
	httpClient      *http.Client
	logger          *slog.Logger
	maxRetries      uint64
	initialInterval time.Duration

	failureThreshold uint32
	openTimeout      time.Duration
	breaker          *gobreaker.CircuitBreaker[any]
}

func DefaultBaseURL(instanceID string) string {
	return fmt.Sprintf("https://%s.pushnotifications.pusher.com/reporting_api/v1", instanceID)
}

func NewClient(instanceID string, opts ...Option) *Client {
	c := &Client{
		instanceID:       instanceID,
		baseURL:          DefaultBaseURL(instanceID),
		httpClient:       &http.Client{Timeout: 10 * time.Second},
		logger:           slog.Default(),
		maxRetries:       3,
		initialInterval:  500 * time.Millisecond,
		failureThreshold: 5,
		openTimeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "reporting")

	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "reporting-" + instanceID,
		MaxRequests: 1,
		Timeout:     c.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.failureThreshold
		},
		IsSuccessful: func(err error) bool {
			// a rejected event says nothing about the endpoint's health
			return err == nil || errors.Is(err, ErrUnrecoverable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Submit sends one event. It returns gobreaker.ErrOpenState without a network
// call while the breaker is open.
func (c *Client) Submit(ctx context.Context, ev Event) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.submitWithRetry(ctx, ev)
	})
	if err != nil {
		c.logger.Debug("Reporting event not delivered", "type", ev.Type, "publish_id", ev.PublishID, "err", err)
	}
	return err
}

func (c *Client) submitWithRetry(ctx context.Context, ev Event) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.Reset()

	return backoff.Retry(func() error {
		err := c.submit(ctx, ev)
		if errors.Is(err, ErrUnrecoverable) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

func (c *Client) submit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(submitRequest{PublishID: ev.PublishID, Timestamp: ev.Timestamp.UnixMilli()})
	if err != nil {
		return backoff.Permanent(err)
	}

	endpoint := fmt.Sprintf("%s/instances/%s/event-type/%s",
		c.baseURL, url.PathEscape(c.instanceID), url.PathEscape(string(ev.Type)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit reporting event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("submit reporting event: server returned %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: server returned %d", ErrUnrecoverable, resp.StatusCode)
	}
}
