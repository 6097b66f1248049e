package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

func newGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GatewayHealth{Healthy: true, Connected: true, Device: "/dev/ttyUSB0", Generation: 2})
	})
	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "Bearer gw-token", r.Header.Get("Authorization"))

		var req SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(SendMessageResponse{Destination: "^all", Bytes: len(req.Text), Chunks: 1})
	})
	mux.HandleFunc("/api/v1/nodes/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/nodes/!1234abcd", r.URL.Path)
		json.NewEncoder(w).Encode(NodeResponse{Num: 0x1234abcd, ID: "!1234abcd", LongName: "Base Camp"})
	})
	mux.HandleFunc("/api/v1/packets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("offset"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(PacketsResponse{
			Packets:     []PacketEntry{{Offset: 5, From: "!00000001", Text: "hi"}},
			StartOffset: 5,
			EndOffset:   6,
			Count:       1,
		})
	})
	mux.HandleFunc("/api/v1/commands", func(w http.ResponseWriter, r *http.Request) {
		var req CommandRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(CommandResponse{Command: req.Command, Matched: "reboot", Accepted: true})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestGatewayClient(t *testing.T) {
	server := newGatewayServer(t)
	client, err := NewGatewayClient(Config{ServerURL: server.URL, Token: "gw-token"})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("health", func(t *testing.T) {
		health, err := client.Health(ctx)
		require.NoError(t, err)
		assert.True(t, health.Connected)
		assert.Equal(t, uint64(2), health.Generation)
	})

	t.Run("send_message", func(t *testing.T) {
		resp, err := client.SendMessage(ctx, SendMessageRequest{Text: "hello"})
		require.NoError(t, err)
		assert.Equal(t, 5, resp.Bytes)
		assert.Equal(t, "^all", resp.Destination)
	})

	t.Run("node", func(t *testing.T) {
		node, err := client.Node(ctx, "!1234abcd")
		require.NoError(t, err)
		assert.Equal(t, "Base Camp", node.LongName)
	})

	t.Run("packets", func(t *testing.T) {
		page, err := client.Packets(ctx, 5, 10)
		require.NoError(t, err)
		require.Len(t, page.Packets, 1)
		assert.Equal(t, "hi", page.Packets[0].Text)
		assert.Equal(t, int64(6), page.EndOffset)
	})

	t.Run("command", func(t *testing.T) {
		resp, err := client.Command(ctx, "reboot please")
		require.NoError(t, err)
		assert.True(t, resp.Accepted)
		assert.Equal(t, "reboot", resp.Matched)
	})
}

func TestGatewayClient_NodeIDReachesServerUnchanged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		num, err := radio.ParseNodeID(r.PathValue("id"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "Bad Request", Message: err.Error(), Code: http.StatusBadRequest})
			return
		}
		json.NewEncoder(w).Encode(NodeResponse{Num: num, ID: radio.FormatNodeID(num)})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewGatewayClient(Config{ServerURL: server.URL})
	require.NoError(t, err)

	tests := []struct {
		id  string
		num uint32
	}{
		{"!1234abcd", 0x1234abcd},
		{"305441741", 0x1234abcd},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			node, err := client.Node(context.Background(), tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.num, node.Num)
			assert.Equal(t, "!1234abcd", node.ID)
		})
	}
}

func TestNewGatewayClient_RequiresURL(t *testing.T) {
	_, err := NewGatewayClient(Config{})
	assert.Error(t, err)
}
