package ptyproc

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"pkt.systems/agentmux/core"
	"pkt.systems/pslog"
)

const readBufferSize = 4096

// Runner spawns PTY-backed shell processes and plain background processes.
// It is a pure I/O edge: no buffering logic lives here.
type Runner struct {
	// Shell is the shell used to interpret spawn commands. Defaults to
	// $SHELL, then /bin/sh.
	Shell string
	log   pslog.Logger
}

// NewRunner constructs a process runner.
func NewRunner(logger pslog.Logger) *Runner {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Runner{log: logger}
}

func (r *Runner) shell() string {
	if r.Shell != "" {
		return r.Shell
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// SpawnShell starts command under a pseudo-terminal in workingDir. Output,
// exit, and error events are reported through cb on a dedicated reader
// goroutine, in emission order.
func (r *Runner) SpawnShell(ctx context.Context, command, workingDir string, env []string, cb core.ProcessCallbacks) (core.ProcessHandle, error) {
	cmd := exec.Command(r.shell(), "-c", command)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), env...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	log := r.log.With("pid", cmd.Process.Pid)
	log.Debug("pty process started", "dir", workingDir)

	handle := &Handle{cmd: cmd, ptmx: ptmx}
	go handle.readLoop(cb, log)
	return handle, nil
}

// Handle is a live PTY-backed process.
type Handle struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	killed bool
}

func (h *Handle) readLoop(cb core.ProcessCallbacks, log pslog.Logger) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 && cb.OnData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			cb.OnData(chunk)
		}
		if err != nil {
			// A closed PTY reads as EIO once the child exits; that is the
			// normal end of stream, not a reportable error.
			if cb.OnError != nil && !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) {
				cb.OnError(err)
			}
			break
		}
	}
	code := h.wait()
	log.Debug("pty process exited", "code", code)
	if cb.OnExit != nil {
		cb.OnExit(code)
	}
}

func (h *Handle) wait() int {
	err := h.cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Write sends input bytes to the process.
func (h *Handle) Write(data []byte) (int, error) {
	return h.ptmx.Write(data)
}

// Resize adjusts the PTY window size.
func (h *Handle) Resize(cols, rows uint16) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Kill terminates the process and closes the PTY. It is idempotent.
func (h *Handle) Kill() error {
	h.mu.Lock()
	if h.killed {
		h.mu.Unlock()
		return nil
	}
	h.killed = true
	h.mu.Unlock()

	var firstErr error
	if h.cmd.Process != nil {
		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			firstErr = err
		}
	}
	if err := h.ptmx.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SpawnBackground starts a plain detached process. onExit fires once with the
// wait result; the caller is expected to only clear its tracking state.
func (r *Runner) SpawnBackground(ctx context.Context, command, workingDir string, onExit func(error)) (core.BackgroundHandle, error) {
	cmd := exec.Command(r.shell(), "-c", command)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	r.log.Debug("background process started", "pid", cmd.Process.Pid, "dir", workingDir)
	handle := &BackgroundHandle{cmd: cmd}
	go func() {
		err := cmd.Wait()
		if onExit != nil {
			onExit(err)
		}
	}()
	return handle, nil
}

// BackgroundHandle is a fire-and-forget companion process.
type BackgroundHandle struct {
	cmd *exec.Cmd

	mu     sync.Mutex
	killed bool
}

// Kill terminates the process group. It is idempotent.
func (h *BackgroundHandle) Kill() error {
	h.mu.Lock()
	if h.killed {
		h.mu.Unlock()
		return nil
	}
	h.killed = true
	h.mu.Unlock()

	if h.cmd.Process == nil {
		return nil
	}
	// Negative pid signals the whole process group started via Setpgid.
	if err := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
