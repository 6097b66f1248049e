package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		config := Config{
			ServerURL: "http://localhost:8081",
			ClientID:  "meshgate",
		}

		client, err := NewClient(config)
		require.NoError(t, err)
		assert.NotNil(t, client)
		assert.Equal(t, "meshgate", client.config.ClientID)
		assert.Equal(t, 30*time.Second, client.config.Timeout)
		assert.Equal(t, 3, client.config.MaxRetries)
		assert.False(t, client.IsAuthenticated())
	})

	t.Run("static_token_without_client_id", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8081", Token: "preissued"})
		require.NoError(t, err)
		assert.True(t, client.IsAuthenticated())
		assert.Equal(t, "preissued", client.GetToken())
	})

	t.Run("missing_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ClientID: "meshgate"})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "ServerURL is required")
	})

	t.Run("missing_credentials", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8081"})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "ClientID is required")
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "://invalid-url", ClientID: "meshgate"})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "invalid ServerURL")
	})
}

func TestClient_Authenticate(t *testing.T) {
	t.Run("successful_authentication", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var authReq map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&authReq))
			assert.Equal(t, "meshgate", authReq["clientId"])

			json.NewEncoder(w).Encode(AuthResponse{
				Token:     "mock-token-123",
				ClientID:  "meshgate",
				ExpiresAt: time.Now().Add(time.Hour),
			})
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, ClientID: "meshgate"})
		require.NoError(t, err)

		require.NoError(t, client.Authenticate(context.Background()))
		assert.True(t, client.IsAuthenticated())
		assert.Equal(t, "mock-token-123", client.GetToken())
	})

	t.Run("authentication_failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(ErrorResponse{
				Error:   "Unauthorized",
				Message: "Invalid client credentials",
				Code:    401,
			})
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, ClientID: "invalid-client"})
		require.NoError(t, err)

		err = client.Authenticate(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authentication failed")
		assert.False(t, client.IsAuthenticated())

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "Unauthorized", apiErr.Response.Error)
	})

	t.Run("token_source", func(t *testing.T) {
		client, err := NewClient(Config{
			ServerURL: "http://localhost:1",
			TokenSource: func(ctx context.Context) (string, error) {
				return "self-signed", nil
			},
		})
		require.NoError(t, err)

		// No login request is made
		require.NoError(t, client.Authenticate(context.Background()))
		assert.Equal(t, "self-signed", client.GetToken())
	})
}

func TestClient_PublishEvent(t *testing.T) {
	t.Run("successful_publish", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/api/v1/events", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			var publishReq PublishRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&publishReq))
			assert.Equal(t, "meshtastic.receive", publishReq.Topic)

			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(PublishResponse{
				EventID:   "meshtastic.receive-1",
				Offset:    1,
				Timestamp: time.Now(),
			})
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, ClientID: "meshgate"})
		require.NoError(t, err)
		client.SetToken("test-token")

		payload := json.RawMessage(`{"from":"!1234abcd"}`)
		response, err := client.PublishEvent(context.Background(), "meshtastic.receive", payload)
		require.NoError(t, err)

		assert.Equal(t, "meshtastic.receive-1", response.EventID)
		assert.Equal(t, int64(1), response.Offset)
	})

	t.Run("publish_without_authentication", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8081", ClientID: "meshgate"})
		require.NoError(t, err)

		_, err = client.PublishEvent(context.Background(), "meshtastic.receive", map[string]string{"msg": "test"})
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})

	t.Run("reauthenticates_after_401", func(t *testing.T) {
		var logins, publishes atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/v1/auth/login":
				logins.Add(1)
				json.NewEncoder(w).Encode(AuthResponse{Token: "fresh"})
			case "/api/v1/events":
				publishes.Add(1)
				if r.Header.Get("Authorization") != "Bearer fresh" {
					w.WriteHeader(http.StatusUnauthorized)
					json.NewEncoder(w).Encode(ErrorResponse{Error: "Unauthorized", Code: 401})
					return
				}
				w.WriteHeader(http.StatusCreated)
				json.NewEncoder(w).Encode(PublishResponse{EventID: "e-1"})
			}
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, ClientID: "meshgate", Token: "expired"})
		require.NoError(t, err)

		response, err := client.PublishEvent(context.Background(), "t", "x")
		require.NoError(t, err)
		assert.Equal(t, "e-1", response.EventID)
		assert.Equal(t, int32(1), logins.Load())
		assert.Equal(t, int32(2), publishes.Load())
		assert.Equal(t, "fresh", client.GetToken())
	})

	t.Run("retries_unavailable", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(PublishResponse{EventID: "e-3"})
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, Token: "t", RetryBackoff: time.Millisecond})
		require.NoError(t, err)

		response, err := client.PublishEvent(context.Background(), "t", "x")
		require.NoError(t, err)
		assert.Equal(t, "e-3", response.EventID)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("does_not_retry_bad_request", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "Bad Request", Code: 400})
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, Token: "t", RetryBackoff: time.Millisecond})
		require.NoError(t, err)

		_, err = client.PublishEvent(context.Background(), "t", "x")
		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestClient_GetHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(HealthResponse{
			Healthy: true,
			Message: "All systems healthy",
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL, ClientID: "meshgate", Token: "t"})
	require.NoError(t, err)

	health, err := client.GetHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Equal(t, "All systems healthy", health.Message)
}
