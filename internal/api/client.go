// Package api is the HTTP client for the push notifications device API.
package api

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

	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
)

// LibraryHeader names the SDK on every request.
const LibraryHeader = "x-pusher-library"

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different device API host, e.g. the dev server.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSDKVersion sets the version reported in the library header.
func WithSDKVersion(version string) Option {
	return func(c *Client) {
		c.sdkVersion = version
	}
}

// Client talks to /device_api/v1 for a single instance.
type Client struct {
	instanceID string
	baseURL    string
	sdkVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

// DefaultBaseURL is the hosted device API for an instance.
func DefaultBaseURL(instanceID string) string {
	return fmt.Sprintf("https://%s.pushnotifications.pusher.com/device_api/v1", instanceID)
}

func NewClient(instanceID string, opts ...Option) *Client {
	c := &Client{
		instanceID: instanceID,
		baseURL:    DefaultBaseURL(instanceID),
		sdkVersion: "dev",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "device-api-client")
	return c
}

// RegisterFCM creates a device for a messaging token.
func (c *Client) RegisterFCM(ctx context.Context, token string, knownPreviousClientIDs []string, md device.Metadata, retry RetryStrategy) (*RegisterResponse, error) {
	if knownPreviousClientIDs == nil {
		knownPreviousClientIDs = []string{}
	}
	req := RegisterRequest{Token: token, KnownPreviousClientIDs: knownPreviousClientIDs, Metadata: md}

	var resp RegisterResponse
	if err := c.do(ctx, http.MethodPost, c.devicesPath(), req, &resp, retry); err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}
	if resp.InitialInterestSet == nil {
		resp.InitialInterestSet = []string{}
	}
	return &resp, nil
}

func (c *Client) RefreshToken(ctx context.Context, deviceID, token string, retry RetryStrategy) error {
	return c.do(ctx, http.MethodPut, c.devicePath(deviceID)+"/token", RefreshTokenRequest{Token: token}, nil, retry)
}

func (c *Client) Subscribe(ctx context.Context, deviceID, interest string, retry RetryStrategy) error {
	return c.do(ctx, http.MethodPost, c.interestPath(deviceID, interest), nil, nil, retry)
}

func (c *Client) Unsubscribe(ctx context.Context, deviceID, interest string, retry RetryStrategy) error {
	return c.do(ctx, http.MethodDelete, c.interestPath(deviceID, interest), nil, nil, retry)
}

func (c *Client) SetSubscriptions(ctx context.Context, deviceID string, interests []string, retry RetryStrategy) error {
	body := SetSubscriptionsRequest{Interests: device.NormalizeInterests(interests)}
	return c.do(ctx, http.MethodPut, c.devicePath(deviceID)+"/interests", body, nil, retry)
}

func (c *Client) SetMetadata(ctx context.Context, deviceID string, md device.Metadata, retry RetryStrategy) error {
	return c.do(ctx, http.MethodPut, c.devicePath(deviceID)+"/metadata", md, nil, retry)
}

// SetUserID binds the device to the user named in the signed JWT.
func (c *Client) SetUserID(ctx context.Context, deviceID, jwt string, retry RetryStrategy) error {
	return c.doWithHeaders(ctx, http.MethodPut, c.devicePath(deviceID)+"/user", nil, nil, retry,
		map[string]string{"Authorization": "Bearer " + jwt})
}

func (c *Client) Delete(ctx context.Context, deviceID string, retry RetryStrategy) error {
	return c.do(ctx, http.MethodDelete, c.devicePath(deviceID), nil, nil, retry)
}

func (c *Client) GetDevice(ctx context.Context, deviceID string, retry RetryStrategy) (*DeviceResponse, error) {
	var resp DeviceResponse
	if err := c.do(ctx, http.MethodGet, c.devicePath(deviceID), nil, &resp, retry); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ----- plumbing ---------------------------------------------------------------

func (c *Client) devicesPath() string {
	return "/instances/" + url.PathEscape(c.instanceID) + "/devices/fcm"
}

func (c *Client) devicePath(deviceID string) string {
	return c.devicesPath() + "/" + url.PathEscape(deviceID)
}

func (c *Client) interestPath(deviceID, interest string) string {
	return c.devicePath(deviceID) + "/interests/" + url.PathEscape(interest)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, retry RetryStrategy) error {
	return c.doWithHeaders(ctx, method, path, in, out, retry, nil)
}

func (c *Client) doWithHeaders(ctx context.Context, method, path string, in, out any, retry RetryStrategy, headers map[string]string) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
	}

	attempt := 0
	op := func() error {
		attempt++
		err := c.roundTrip(ctx, method, path, payload, out, headers)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		c.logger.Warn("device API call failed", "method", method, "path", path, "attempt", attempt, "err", err)
		return err
	}
	return backoff.Retry(op, retry.newBackOff(ctx))
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, out any, headers map[string]string) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(LibraryHeader, "push-notifications-go "+c.sdkVersion)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(req, resp.StatusCode, respBody)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}
