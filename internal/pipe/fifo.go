// Package pipe feeds lines from named pipes into the gateway.
//
// An Ingestor reads one FIFO line by line and hands each non-empty line to a
// LineHandler in arrival order. The message pipe broadcasts every line over
// the radio; the command pipe dispatches administrative commands.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Default FIFO locations
const (
	DefaultMessagePath = "/tmp/mtg.fifo"
	DefaultCommandPath = "/tmp/mtg.cmd.fifo"
)

var (
	// ErrNotFIFO is returned when the pipe path exists but is not a named pipe
	ErrNotFIFO = errors.New("path exists and is not a named pipe")
	// ErrNoReader is returned by Post when nothing opened the pipe for reading in time
	ErrNoReader = errors.New("no reader on named pipe")
)

// postRetryInterval is how often Post retries opening a pipe without a reader
const postRetryInterval = 50 * time.Millisecond

// Ensure creates a FIFO at path unless one already exists.
func Ensure(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if info.Mode()&fs.ModeNamedPipe == 0 {
			return fmt.Errorf("%w: %s", ErrNotFIFO, path)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := unix.Mkfifo(path, 0o666); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

// Post writes line to the FIFO at path as one newline-terminated record.
// It waits for a reader until ctx is done, then fails with ErrNoReader.
func Post(ctx context.Context, path, line string) error {
	if err := Ensure(path); err != nil {
		return err
	}

	for {
		f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			_, werr := f.WriteString(line + "\n")
			cerr := f.Close()
			if werr != nil {
				return fmt.Errorf("write %s: %w", path, werr)
			}
			return cerr
		}
		if !errors.Is(err, unix.ENXIO) {
			return fmt.Errorf("open %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrNoReader, path)
		case <-time.After(postRetryInterval):
		}
	}
}

// wake releases a reader blocked opening path by briefly opening the write
// end without blocking. It is a no-op when no reader is waiting.
func wake(path string) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return
	}
	_ = unix.Close(fd)
}
