// Package pty owns a single OS pseudo-terminal running a child command.
//
// A Handle forks a child with its stdio bound to the PTY's slave side and
// retains the master side for reads, writes, resize, and kill. It has no
// knowledge of scrollback, ring buffers, or session metadata — those live
// one layer up, in the package that couples a Handle with a terminal
// emulator and a provider. A Handle owns its child: dropping it without
// calling Kill leaks the process.
package pty

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// killGrace is how long Kill waits after SIGHUP before escalating to SIGKILL.
const killGrace = 250 * time.Millisecond

// ErrClosed is returned by Write once the child has exited.
var ErrClosed = errors.New("pty: write on closed handle")

// Handle is the master side of a pseudo-terminal plus the child it drives.
type Handle struct {
	master *os.File
	cmd    *exec.Cmd
	rows   uint16
	cols   uint16
	logger *slog.Logger

	exited chan struct{}
}

// Spawn creates a PTY, forks argv[0] with argv[1:] as arguments in cwd, with
// env appended to the child's environment, and sizes the PTY to rows x cols.
// It fails with a wrapped error if the binary cannot be found or the fork
// fails.
func Spawn(cwd string, argv []string, env []string, rows, cols uint16, logger *slog.Logger) (*Handle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("pty: spawn: empty argv")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), env...)

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("pty: spawn %q: %w", argv[0], err)
	}

	h := &Handle{
		master: master,
		cmd:    cmd,
		rows:   rows,
		cols:   cols,
		logger: logger,
		exited: make(chan struct{}),
	}

	go h.reap()

	return h, nil
}

// SpawnShell is a convenience wrapper that runs the user's login shell.
func SpawnShell(cwd string, env []string, rows, cols uint16, logger *slog.Logger) (*Handle, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}
	return Spawn(cwd, []string{shell, "-i"}, env, rows, cols, logger)
}

// reap waits for the child to exit and closes the exited channel, so
// IsRunning and Kill never block on a process that has already died.
func (h *Handle) reap() {
	h.cmd.Wait()
	close(h.exited)
}

// Read performs a non-blocking-in-practice read on the master; it blocks
// only until the child produces output, exits, or the master is closed.
// It returns 0, io.EOF once the child has exited and all buffered output
// has been drained.
func (h *Handle) Read(buf []byte) (int, error) {
	return h.master.Read(buf)
}

// Write sends bytes to the child's stdin via the PTY master. Writes issued
// after the child has exited fail with ErrClosed.
func (h *Handle) Write(buf []byte) (int, error) {
	select {
	case <-h.exited:
		return 0, ErrClosed
	default:
	}
	n, err := h.master.Write(buf)
	if err != nil {
		return n, fmt.Errorf("pty: write: %w", err)
	}
	return n, nil
}

// Resize changes the PTY's terminal dimensions.
func (h *Handle) Resize(rows, cols uint16) error {
	h.rows = rows
	h.cols = cols
	if err := pty.Setsize(h.master, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("pty: resize: %w", err)
	}
	return nil
}

// Size returns the last dimensions set on the PTY.
func (h *Handle) Size() (rows, cols uint16) {
	return h.rows, h.cols
}

// IsRunning reports whether the child process is still alive.
func (h *Handle) IsRunning() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// MasterFD exposes the pollable file descriptor backing the master side.
func (h *Handle) MasterFD() uintptr {
	return h.master.Fd()
}

// Wait blocks until the child has exited.
func (h *Handle) Wait() {
	<-h.exited
}

// Kill terminates the child, sending SIGHUP first and escalating to SIGKILL
// if the child has not exited within the grace period. It always closes the
// master side and reaps the child before returning.
func (h *Handle) Kill() error {
	if h.cmd.Process != nil {
		if err := h.cmd.Process.Signal(syscall.SIGHUP); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.logger.Warn("pty: SIGHUP failed", "error", err)
		}

		select {
		case <-h.exited:
		case <-time.After(killGrace):
			if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				h.logger.Warn("pty: SIGKILL failed", "error", err)
			}
			<-h.exited
		}
	}

	if err := h.master.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("pty: close master: %w", err)
	}
	return nil
}

var _ io.ReadWriter = (*Handle)(nil)
