package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-pushnotifications/pkg/auth"
)

func TestBeamsTokenProvider(t *testing.T) {
	authData := func(context.Context) (auth.AuthData, error) {
		return auth.AuthData{
			Headers:     map[string]string{"Authorization": "Bearer session"},
			QueryParams: map[string]string{"app": "demo"},
		}, nil
	}

	t.Run("JSON response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Bearer session", r.Header.Get("Authorization"))
			assert.Equal(t, "alice", r.URL.Query().Get("user_id"))
			assert.Equal(t, "demo", r.URL.Query().Get("app"))
			_, _ = w.Write([]byte(`{"token":"jwt-abc"}`))
		}))
		defer srv.Close()

		token, err := auth.NewBeamsTokenProvider(srv.URL+"/beams-auth", authData).FetchToken(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "jwt-abc", token)
	})

	t.Run("Bare token response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("jwt-raw\n"))
		}))
		defer srv.Close()

		token, err := auth.NewBeamsTokenProvider(srv.URL, nil).FetchToken(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "jwt-raw", token)
	})

	t.Run("Non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusForbidden)
		}))
		defer srv.Close()

		_, err := auth.NewBeamsTokenProvider(srv.URL, authData).FetchToken(context.Background(), "alice")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
	})

	t.Run("Auth data failure", func(t *testing.T) {
		failing := func(context.Context) (auth.AuthData, error) { return auth.AuthData{}, errors.New("no session") }
		_, err := auth.NewBeamsTokenProvider("http://unused", failing).FetchToken(context.Background(), "alice")
		assert.ErrorContains(t, err, "no session")
	})
}

func TestTokenProviderFunc(t *testing.T) {
	var p auth.TokenProvider = auth.TokenProviderFunc(func(_ context.Context, userID string) (string, error) {
		return "token-for-" + userID, nil
	})
	token, err := p.FetchToken(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "token-for-bob", token)
}
