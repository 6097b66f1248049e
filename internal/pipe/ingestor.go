package pipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultLineBuffer is the default capacity of the reader-to-handler channel
const DefaultLineBuffer = 64

// wakeInterval is how often a stopping Ingestor retries releasing its reader
const wakeInterval = 50 * time.Millisecond

// LineHandler consumes one pipe line
type LineHandler interface {
	HandleLine(ctx context.Context, line string) error
}

// HandlerFunc adapts a function to LineHandler
type HandlerFunc func(ctx context.Context, line string) error

// HandleLine calls f.
func (f HandlerFunc) HandleLine(ctx context.Context, line string) error {
	return f(ctx, line)
}

// Ingestor reads lines from one named pipe. The FIFO is reopened at every
// end-of-stream, so independent writers can come and go.
type Ingestor struct {
	// Name labels log lines ("message", "command")
	Name string

	// Path is the FIFO location; it is created if absent
	Path string

	// Handler receives every non-empty line
	Handler LineHandler

	// LineBuffer bounds how many lines the reader may queue ahead of Handler
	LineBuffer int

	// Stop ends the ingestor when closed, typically the connection's Done channel
	Stop <-chan struct{}

	Logger *slog.Logger
}

// Run reads the pipe until ctx is cancelled or Stop is closed. It returns nil
// on Stop, ctx.Err() on cancellation, and an error if the pipe cannot be
// created or opened. Handler errors are logged and reading continues.
func (i *Ingestor) Run(ctx context.Context) error {
	if i.Path == "" {
		return errors.New("pipe path cannot be empty")
	}
	if i.Handler == nil {
		return errors.New("line handler cannot be nil")
	}
	if err := Ensure(i.Path); err != nil {
		return err
	}

	logger := i.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pipe", "pipe", i.Name, "path", i.Path)

	size := i.LineBuffer
	if size <= 0 {
		size = DefaultLineBuffer
	}

	r := &reader{
		path:  i.Path,
		lines: make(chan string, size),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.run()
	defer r.stop()

	logger.Info("pipe ingestor started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("pipe ingestor cancelled")
			return ctx.Err()
		case <-i.Stop:
			logger.Info("pipe ingestor stopped")
			return nil
		case line, ok := <-r.lines:
			if !ok {
				if r.err != nil {
					logger.Error("pipe reader failed", "error", r.err)
				}
				return r.err
			}
			if err := i.Handler.HandleLine(ctx, line); err != nil {
				logger.Warn("handling pipe line failed", "error", err, "bytes", len(line))
			}
		}
	}
}

// reader owns the blocking open/read side of one FIFO.
type reader struct {
	path  string
	lines chan string
	quit  chan struct{}
	done  chan struct{}

	// err is set before lines is closed
	err error

	mu       sync.Mutex
	file     *os.File
	quitOnce sync.Once
}

func (r *reader) run() {
	defer close(r.done)
	defer close(r.lines)

	for !r.quitting() {
		// Blocks until a writer opens the pipe or wake runs
		f, err := os.OpenFile(r.path, os.O_RDONLY, 0)
		if err != nil {
			r.err = fmt.Errorf("open %s: %w", r.path, err)
			return
		}
		if !r.track(f) {
			f.Close()
			return
		}

		err = r.drain(f)
		r.untrack()
		f.Close()
		if err != nil && !errors.Is(err, os.ErrClosed) {
			r.err = fmt.Errorf("read %s: %w", r.path, err)
			return
		}
	}
}

// drain reads lines until end-of-stream, which means every writer closed.
func (r *reader) drain(f *os.File) error {
	br := bufio.NewReader(f)
	for {
		line, err := br.ReadString('\n')
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			select {
			case r.lines <- line:
			case <-r.quit:
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (r *reader) quitting() bool {
	select {
	case <-r.quit:
		return true
	default:
		return false
	}
}

func (r *reader) track(f *os.File) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quitting() {
		return false
	}
	r.file = f
	return true
}

func (r *reader) untrack() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.file = nil
}

// closeFile interrupts a read in progress. FIFOs are pollable, so Close
// unblocks the pending Read with os.ErrClosed.
func (r *reader) closeFile() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		r.file.Close()
	}
}

// stop ends the reader goroutine and waits for it.
func (r *reader) stop() {
	r.quitOnce.Do(func() {
		r.mu.Lock()
		close(r.quit)
		r.mu.Unlock()
	})
	r.closeFile()

	for {
		wake(r.path)
		select {
		case <-r.done:
			return
		case <-time.After(wakeInterval):
			r.closeFile()
		}
	}
}
