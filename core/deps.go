package core

import (
	"context"
	"time"

	"pkt.systems/pslog"
)

// ProcessCallbacks receive events from a spawned session process. Callbacks
// fire on the process reader goroutine, in emission order.
type ProcessCallbacks struct {
	OnData  func(data []byte)
	OnExit  func(code int)
	OnError func(err error)
}

// ProcessHandle is a live PTY-backed process owned by one session.
type ProcessHandle interface {
	Write(data []byte) (int, error)
	Resize(cols, rows uint16) error
	Kill() error
}

// BackgroundHandle is a fire-and-forget companion process.
type BackgroundHandle interface {
	Kill() error
}

// ProcessRunner spawns session and companion processes.
type ProcessRunner interface {
	SpawnShell(ctx context.Context, command, workingDir string, env []string, cb ProcessCallbacks) (ProcessHandle, error)
	SpawnBackground(ctx context.Context, command, workingDir string, onExit func(error)) (BackgroundHandle, error)
}

// MuxBridge coordinates with the external terminal multiplexer.
type MuxBridge interface {
	// AttachOrCreate returns one shell invocation that attaches to the named
	// session or, failing that, creates and attaches it. runStartup controls
	// whether the create branch launches the startup command.
	AttachOrCreate(name, workingDir, startupCommand string, runStartup bool) string
	// SessionExists is a best-effort existence probe.
	SessionExists(ctx context.Context, name string) (bool, error)
	// KillSession terminates the named session. Killing a session that does
	// not exist is not an error.
	KillSession(ctx context.Context, name string) error
}

// HookInstaller writes the agent CLI hook configuration into a project.
type HookInstaller interface {
	Install(projectPath string, projectID string) error
}

// Notifier shows an OS-level notification.
type Notifier interface {
	Notify(title, body string) error
}

// ServiceDeps captures dependencies for the session service.
type ServiceDeps struct {
	Runner    ProcessRunner
	Mux       MuxBridge
	Hooks     HookInstaller
	Notifier  Notifier
	EventSink EventSink
	Logger    pslog.Logger
	// Clock overrides time.Now for tests.
	Clock func() time.Time
	// Focused reports whether the desktop window has focus. Nil means no
	// desktop consumer is attached, which counts as unfocused.
	Focused func() bool
}
