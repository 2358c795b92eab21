// Package pty implements the terminal multiplexer: a WebSocket-upgrade
// bridge to a container `exec`-backed pseudo-terminal with a JSON
// resize control frame.
package pty

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	ptylib "github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/logging"
)

// Session is one interactive `exec` attached to a workspace container,
// either through a genuine host-side pty (preferred: resize is a real
// TIOCSWINSZ) or, when that fails, through plain pipes with resize
// downgraded to an in-container `stty` call.
type Session struct {
	containerName string
	drv           *container.Driver
	log           *logging.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	ptmx   *os.File
	stream *container.StreamProcess
	rows   int
	cols   int
	closed bool

	buffer *ringBuffer
}

// NewSession starts argv inside containerName and returns a Session
// bridging its PTY. It first attempts a genuine host-side pty via
// creack/pty; if the container runtime's exec wrapper rejects that, it
// falls back to plain attached pipes with stty-based resize.
func NewSession(ctx context.Context, drv *container.Driver, containerName string, argv []string, opts container.ExecOptions, rows, cols int, log *logging.Logger) (*Session, error) {
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	cmd := drv.TTYCommand(ctx, containerName, argv, opts)
	ptmx, err := ptylib.StartWithSize(cmd, &ptylib.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err == nil {
		return &Session{
			containerName: containerName,
			drv:           drv,
			log:           log,
			cmd:           cmd,
			ptmx:          ptmx,
			rows:          rows,
			cols:          cols,
			buffer:        newRingBuffer(0),
		}, nil
	}

	log.Warn("host pty unavailable, falling back to pipe+stty resize",
		zap.String("container", containerName), zap.Error(err))

	stream, sErr := drv.ExecStream(ctx, containerName, argv, opts)
	if sErr != nil {
		return nil, sErr
	}
	return &Session{
		containerName: containerName,
		drv:           drv,
		log:           log,
		stream:        stream,
		rows:          rows,
		cols:          cols,
		buffer:        newRingBuffer(0),
	}, nil
}

// Read reads PTY output, also copying it into the session's ring buffer.
func (s *Session) Read(p []byte) (int, error) {
	n, err := s.reader().Read(p)
	if n > 0 {
		s.buffer.Write(p[:n])
	}
	return n, err
}

func (s *Session) reader() io.Reader {
	if s.ptmx != nil {
		return s.ptmx
	}
	return s.stream.Stdout
}

// Write sends input bytes to the PTY.
func (s *Session) Write(p []byte) (int, error) {
	if s.ptmx != nil {
		return s.ptmx.Write(p)
	}
	return s.stream.Stdin.Write(p)
}

// Buffered returns the most recent output read from this session.
func (s *Session) Buffered() []byte {
	return s.buffer.readAll()
}

// Resize sets the PTY window size: a real TIOCSWINSZ when a host pty
// backs this session, or `stty` inside the container otherwise.
func (s *Session) Resize(ctx context.Context, rows, cols int) error {
	s.mu.Lock()
	s.rows, s.cols = rows, cols
	s.mu.Unlock()

	if s.ptmx != nil {
		return ptylib.Setsize(s.ptmx, &ptylib.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	}

	_, err := s.drv.Exec(ctx, s.containerName, []string{"stty", "cols", fmt.Sprint(cols), "rows", fmt.Sprint(rows)}, container.ExecOptions{})
	return err
}

// Wait reaps the underlying process after its output stream has ended
// and returns the exit code, or -1 if the process state is unknown.
func (s *Session) Wait() int {
	if s.cmd != nil {
		err := s.cmd.Wait()
		if err == nil {
			return 0
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		return -1
	}
	if s.stream != nil {
		code, err := s.stream.Wait()
		if err != nil {
			return -1
		}
		return code
	}
	return -1
}

// Close tears down the PTY and kills the underlying process.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.ptmx != nil {
		_ = s.ptmx.Close()
	} else if s.stream != nil {
		_ = s.stream.Kill()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return nil
}

// IsRunning reports whether Close has not yet been called.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}
