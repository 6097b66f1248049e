package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshgate/internal/auth"
	"github.com/rmacdonaldsmith/meshgate/internal/config"
	"github.com/rmacdonaldsmith/meshgate/internal/pipe"
	"github.com/rmacdonaldsmith/meshgate/pkg/httpclient"
)

func run(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = execute(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

// readPipe returns everything written to the FIFO at path by its first writer.
func readPipe(t *testing.T, path string) <-chan string {
	t.Helper()
	require.NoError(t, pipe.Ensure(path))

	lines := make(chan string, 1)
	go func() {
		f, err := os.Open(path)
		if err != nil {
			lines <- "open failed: " + err.Error()
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		lines <- string(data)
	}()
	return lines
}

func receive(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case line := <-lines:
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("nothing written to pipe")
		return ""
	}
}

func TestDefaultArgs(t *testing.T) {
	assert.Equal(t, []string{"run"}, defaultArgs(nil))
	assert.Equal(t, []string{"version"}, defaultArgs([]string{"version"}))
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := run(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "meshgate v"+appVersion+"\n", out)
}

func TestPost2Mesh_EmptyMessage(t *testing.T) {
	code, out, _ := run(t, "post2mesh", "--fifo", filepath.Join(t.TempDir(), "msg.fifo"))
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Cannot send empty message...")
}

func TestCommand_EmptyCommand(t *testing.T) {
	code, out, _ := run(t, "command", "--fifo", filepath.Join(t.TempDir(), "cmd.fifo"))
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Cannot send empty command...")
}

func TestPost2Mesh_WritesLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.fifo")
	lines := readPipe(t, path)

	code, out, stderr := run(t, "post2mesh", "-m", "hello mesh", "--fifo", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Wrote 10 bytes")
	assert.Equal(t, "hello mesh\n", receive(t, lines))
}

func TestCommand_WritesLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd.fifo")
	lines := readPipe(t, path)

	code, _, stderr := run(t, "command", "-c", "reboot", "--fifo", path)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "reboot\n", receive(t, lines))
}

func TestPost2Mesh_NotAPipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regular")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	code, _, stderr := run(t, "post2mesh", "-m", "hi", "--fifo", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not a named pipe")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTokenCommand(t *testing.T) {
	t.Setenv(config.EnvAPISecret, "test-secret")
	path := writeConfig(t, "meshtastic:\n  device: /dev/ttyACM0\n")

	code, out, stderr := run(t, "token", "-c", path, "--client-id", "ops", "--admin")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "Token for ops (admin=true)")

	jwtAuth, err := auth.NewJWTAuth("test-secret", 0)
	require.NoError(t, err)
	claims, err := jwtAuth.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.ClientID)
	assert.True(t, claims.IsAdmin)
}

func TestTokenCommand_SecretFromFile(t *testing.T) {
	t.Setenv(config.EnvAPISecret, "")
	os.Unsetenv(config.EnvAPISecret)
	path := writeConfig(t, "api:\n  secret: file-secret\n")

	code, out, stderr := run(t, "token", "-c", path, "--client-id", "viewer")
	require.Equal(t, 0, code, stderr)

	jwtAuth, err := auth.NewJWTAuth("file-secret", 0)
	require.NoError(t, err)
	claims, err := jwtAuth.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.False(t, claims.IsAdmin)
}

func TestTokenCommand_Errors(t *testing.T) {
	t.Setenv(config.EnvAPISecret, "")
	path := writeConfig(t, "debug: false\n")

	code, _, stderr := run(t, "token", "-c", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "client-id")

	code, _, stderr = run(t, "token", "-c", path, "--client-id", "ops")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "api secret")
}

func TestRunCommand_MissingConfig(t *testing.T) {
	code, _, stderr := run(t, "run", "-c", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(httpclient.GatewayHealth{
			Healthy:          true,
			Connected:        true,
			Device:           "/dev/ttyUSB0",
			Generation:       3,
			Uptime:           "1h0m0s",
			PacketsReceived:  12,
			PacketsForwarded: 11,
			PublishErrors:    1,
			Message:          "ok",
		})
	})
	mux.HandleFunc("/api/v1/nodes/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cli-token", r.Header.Get("Authorization"))
		lat, lon := 52.5, 13.4
		json.NewEncoder(w).Encode(httpclient.NodeResponse{
			Num:       0x1234abcd,
			ID:        "!1234abcd",
			LongName:  "Base Camp",
			ShortName: "BC",
			SNR:       6.5,
			Latitude:  &lat,
			Longitude: &lon,
		})
	})
	mux.HandleFunc("/api/v1/packets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(httpclient.PacketsResponse{
			Packets: []httpclient.PacketEntry{
				{Offset: 7, From: "!00000001", To: "^all", PortNum: "TEXT_MESSAGE_APP", Text: "hi"},
				{Offset: 8, From: "!00000002", To: "^all", PortNum: "POSITION_APP", Payload: []byte{1, 2, 3}},
			},
			StartOffset: 7,
			EndOffset:   9,
			Count:       2,
		})
	})
	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req httpclient.SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(httpclient.SendMessageResponse{Destination: "^all", Bytes: len(req.Text), Chunks: 1})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestStatusCommand(t *testing.T) {
	server := newAPIServer(t)

	code, out, stderr := run(t, "status", "--api", server.URL)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "✅ Gateway is healthy!")
	assert.Contains(t, out, "Device: /dev/ttyUSB0")
	assert.Contains(t, out, "Connected: true (generation 3)")
	assert.Contains(t, out, "Packets: 12 received, 11 forwarded, 1 publish errors")
}

func TestNodeCommand(t *testing.T) {
	server := newAPIServer(t)

	code, out, stderr := run(t, "node", "!1234abcd", "--api", server.URL, "--token", "cli-token")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "!1234abcd (305441741)")
	assert.Contains(t, out, "Name: Base Camp [BC]")
	assert.Contains(t, out, "Position: 52.50000, 13.40000")
}

func TestPacketsCommand(t *testing.T) {
	server := newAPIServer(t)

	code, out, stderr := run(t, "packets", "--limit", "5", "--api", server.URL)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Packets 7-9 of 9:")
	assert.Contains(t, out, "TEXT_MESSAGE_APP: hi")
	assert.Contains(t, out, "POSITION_APP: 3 bytes")
}

func TestSendCommand(t *testing.T) {
	server := newAPIServer(t)

	code, out, stderr := run(t, "send", "-m", "hello", "--api", server.URL)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Sent 5 bytes to ^all in 1 frame(s)")

	code, out, _ = run(t, "send", "--api", server.URL)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Cannot send empty message...")
}
