// Package auth defines how the SDK obtains the signed token that proves a
// host is allowed to associate a user with a device.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenProvider fetches a token for userID, usually from the host's own
// backend. Returning an error fails the pending SetUserID call.
type TokenProvider interface {
	FetchToken(ctx context.Context, userID string) (string, error)
}

// TokenProviderFunc adapts a plain function to TokenProvider.
type TokenProviderFunc func(ctx context.Context, userID string) (string, error)

func (f TokenProviderFunc) FetchToken(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// AuthData is attached to each token request made by BeamsTokenProvider.
type AuthData struct {
	Headers     map[string]string
	QueryParams map[string]string
}

// BeamsTokenProvider asks an auth endpoint on the host's backend for a token.
// The endpoint receives POST AuthURL?user_id=<id> and answers with either
// {"token": "..."} or the bare token.
type BeamsTokenProvider struct {
	AuthURL     string
	GetAuthData func(ctx context.Context) (AuthData, error)
	HTTPClient  *http.Client
}

func NewBeamsTokenProvider(authURL string, getAuthData func(ctx context.Context) (AuthData, error)) *BeamsTokenProvider {
	return &BeamsTokenProvider{
		AuthURL:     authURL,
		GetAuthData: getAuthData,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

var ErrEmptyToken = errors.New("auth endpoint returned an empty token")

func (p *BeamsTokenProvider) FetchToken(ctx context.Context, userID string) (string, error) {
	var authData AuthData
	if p.GetAuthData != nil {
		var err error
		authData, err = p.GetAuthData(ctx)
		if err != nil {
			return "", fmt.Errorf("get auth data: %w", err)
		}
	}

	u, err := url.Parse(p.AuthURL)
	if err != nil {
		return "", fmt.Errorf("parse auth url: %w", err)
	}
	q := u.Query()
	for k, v := range authData.QueryParams {
		q.Set(k, v)
	}
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	for k, v := range authData.Headers {
		req.Header.Set(k, v)
	}

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("auth endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr struct {
		Token string `json:"token"`
	}
	token := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &tr); err == nil {
		token = tr.Token
	}
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}
