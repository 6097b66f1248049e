package pipe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/meshgate/internal/connection"
	"github.com/rmacdonaldsmith/meshgate/internal/radiotest"
	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) HandleLine(ctx context.Context, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	return nil
}

func (r *lineRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// startIngestor runs an ingestor in the background and returns its stop channel
// and result channel.
func startIngestor(t *testing.T, path string, handler LineHandler) (chan struct{}, <-chan error) {
	t.Helper()

	stop := make(chan struct{})
	result := make(chan error, 1)
	ing := &Ingestor{Name: "test", Path: path, Handler: handler, Stop: stop}
	go func() { result <- ing.Run(context.Background()) }()

	t.Cleanup(func() {
		select {
		case <-stop:
		default:
			close(stop)
		}
		select {
		case <-result:
		case <-time.After(2 * time.Second):
		}
	})
	return stop, result
}

func post(t *testing.T, path, line string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, Post(ctx, path, line))
}

func newConnection(t *testing.T) (*connection.Connection, *radiotest.FakeDialer) {
	t.Helper()
	dialer := radiotest.NewFakeDialer()
	conn, err := connection.New(connection.Config{DevicePath: "/dev/ttyTEST"}, dialer, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { conn.Close() })
	return conn, dialer
}

func TestEnsure(t *testing.T) {
	dir := t.TempDir()

	t.Run("creates_fifo", func(t *testing.T) {
		path := filepath.Join(dir, "new.fifo")
		require.NoError(t, Ensure(path))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&os.ModeNamedPipe)

		// Existing FIFO is fine
		assert.NoError(t, Ensure(path))
	})

	t.Run("rejects_regular_file", func(t *testing.T) {
		path := filepath.Join(dir, "plain")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		assert.ErrorIs(t, Ensure(path), ErrNotFIFO)
	})
}

func TestPost_NoReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lonely.fifo")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, Post(ctx, path, "hello"), ErrNoReader)
}

func TestIngestor_Validation(t *testing.T) {
	err := (&Ingestor{Handler: &lineRecorder{}}).Run(context.Background())
	assert.Error(t, err)

	err = (&Ingestor{Path: filepath.Join(t.TempDir(), "p")}).Run(context.Background())
	assert.Error(t, err)
}

func TestIngestor_DeliversLinesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "order.fifo")
	recorder := &lineRecorder{}
	startIngestor(t, path, recorder)

	post(t, path, "first")
	post(t, path, "second\r")
	post(t, path, "third\n\nfourth")

	require.Eventually(t, func() bool { return len(recorder.all()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, recorder.all())
}

func TestIngestor_HandlerErrorsDoNotStopReading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.fifo")
	recorder := &lineRecorder{}
	handler := HandlerFunc(func(ctx context.Context, line string) error {
		recorder.HandleLine(ctx, line)
		return errors.New("radio busy")
	})
	startIngestor(t, path, handler)

	post(t, path, "one")
	post(t, path, "two")

	require.Eventually(t, func() bool { return len(recorder.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestIngestor_TerminatesAfterStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stop.fifo")
	stop, result := startIngestor(t, path, &lineRecorder{})

	// The reader is blocked opening a pipe nobody writes to
	time.Sleep(50 * time.Millisecond)
	close(stop)

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ingestor did not terminate after stop")
	}
}

func TestIngestor_TerminatesWithOpenWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "held.fifo")
	recorder := &lineRecorder{}
	stop, result := startIngestor(t, path, recorder)

	post(t, path, "warmup")
	require.Eventually(t, func() bool { return len(recorder.all()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// A writer that never closes keeps the reader inside Read
	writer, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer writer.Close()

	close(stop)
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ingestor did not terminate with an open writer")
	}
}

func TestIngestor_TerminatesOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancel.fifo")
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	ing := &Ingestor{Name: "test", Path: path, Handler: &lineRecorder{}}
	go func() { result <- ing.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ingestor did not terminate after cancel")
	}
}

func TestIngestor_StopsWithConnectionShutdown(t *testing.T) {
	conn, _ := newConnection(t)
	path := filepath.Join(t.TempDir(), "shutdown.fifo")

	result := make(chan error, 1)
	ing := &Ingestor{Name: "message", Path: path, Handler: MessageHandler(conn), Stop: conn.Done()}
	go func() { result <- ing.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	conn.Shutdown()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ingestor did not terminate after shutdown")
	}
}

func TestMessagePipe_Hello(t *testing.T) {
	conn, dialer := newConnection(t)
	path := filepath.Join(t.TempDir(), "mtg.fifo")
	startIngestor(t, path, MessageHandler(conn))

	post(t, path, "hello")

	handle := dialer.Last()
	require.Eventually(t, func() bool { return len(handle.Sends()) == 1 }, 2*time.Second, 10*time.Millisecond)
	send := handle.Sends()[0]
	assert.Equal(t, "hello", send.Text)
	assert.Equal(t, radio.BroadcastAddr, send.Dest)
}

func TestMessagePipe_LongLineIsChunked(t *testing.T) {
	conn, dialer := newConnection(t)
	path := filepath.Join(t.TempDir(), "mtg.fifo")
	startIngestor(t, path, MessageHandler(conn))

	var b strings.Builder
	for i := 0; i < 400; i++ {
		b.WriteByte(byte('0' + i%10))
	}
	line := b.String()
	post(t, path, line)

	handle := dialer.Last()
	require.Eventually(t, func() bool { return len(handle.Sends()) == 4 }, 2*time.Second, 10*time.Millisecond)

	var joined strings.Builder
	for _, s := range handle.Sends() {
		assert.LessOrEqual(t, len(s.Text), radio.ChunkSize)
		assert.Equal(t, radio.BroadcastAddr, s.Dest)
		joined.WriteString(s.Text)
	}
	assert.Equal(t, line, joined.String())
}

type commandCounter struct {
	mu      sync.Mutex
	reboots int
	resets  int
}

func (c *commandCounter) handler() *CommandHandler {
	return &CommandHandler{
		Reboot: func(ctx context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.reboots++
			return nil
		},
		ResetDB: func(ctx context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.resets++
			return nil
		},
	}
}

func (c *commandCounter) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reboots, c.resets
}

func TestCommandHandler(t *testing.T) {
	tests := []struct {
		line    string
		reboots int
		resets  int
	}{
		{line: "reboot please", reboots: 1},
		{line: "reboot", reboots: 1},
		{line: "reset_dbnow", resets: 1},
		{line: "reset_db", resets: 1},
		{line: "foo"},
		{line: "Reboot"},
		{line: " reboot"},
		{line: "reset"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			counter := &commandCounter{}
			require.NoError(t, counter.handler().HandleLine(context.Background(), tt.line))

			reboots, resets := counter.counts()
			assert.Equal(t, tt.reboots, reboots)
			assert.Equal(t, tt.resets, resets)
		})
	}
}

func TestCommandHandler_MissingHook(t *testing.T) {
	h := &CommandHandler{}
	assert.NoError(t, h.HandleLine(context.Background(), "reboot now"))
	assert.NoError(t, h.HandleLine(context.Background(), "reset_db"))
}

func TestCommandHandler_PropagatesHookError(t *testing.T) {
	h := &CommandHandler{Reboot: func(ctx context.Context) error { return connection.ErrConnection }}
	assert.ErrorIs(t, h.HandleLine(context.Background(), "reboot"), connection.ErrConnection)
}

func TestCommandPipe(t *testing.T) {
	counter := &commandCounter{}
	path := filepath.Join(t.TempDir(), "mtg.cmd.fifo")
	startIngestor(t, path, counter.handler())

	post(t, path, "reboot please")
	post(t, path, "reset_dbnow")
	post(t, path, "foo")
	post(t, path, "reboot")

	require.Eventually(t, func() bool {
		reboots, resets := counter.counts()
		return reboots == 2 && resets == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMatch(t *testing.T) {
	assert.Equal(t, CommandReboot, Match("reboot please"))
	assert.Equal(t, CommandResetDB, Match("reset_dbnow"))
	assert.Equal(t, "", Match("foo"))
	assert.Equal(t, "", Match(""))
}
