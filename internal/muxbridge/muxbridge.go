package muxbridge

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"pkt.systems/pslog"
)

// CmdRunner abstracts command execution for testability.
type CmdRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner implements CmdRunner using os/exec.
type ExecRunner struct{}

// Run executes a command and returns its combined output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// Bridge builds and runs tmux invocations for named external sessions. The
// named session's lifecycle is independent of this process: it may already
// exist from a prior run, and this bridge only attaches, creates, or kills
// it, never assuming sole ownership.
type Bridge struct {
	binary string
	runner CmdRunner
	log    pslog.Logger
}

// New constructs a Bridge for the given tmux binary.
func New(binary string, logger pslog.Logger) *Bridge {
	if binary == "" {
		binary = "tmux"
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bridge{binary: binary, runner: ExecRunner{}, log: logger}
}

// NewWithRunner constructs a Bridge with a custom command runner.
func NewWithRunner(binary string, runner CmdRunner, logger pslog.Logger) *Bridge {
	b := New(binary, logger)
	if runner != nil {
		b.runner = runner
	}
	return b
}

// AttachOrCreate returns a single shell invocation that attaches to the named
// session and, only if that fails, creates and attaches it. The shell's `||`
// operator provides the race-free fallback: there is no separate existence
// check between deciding and acting, so concurrent external operations cannot
// cause a double-start. runStartup controls whether the create branch
// launches startupCommand inside the fresh session.
func (b *Bridge) AttachOrCreate(name, workingDir, startupCommand string, runStartup bool) string {
	attach := fmt.Sprintf("%s attach-session -t %s", b.binary, shellQuote(name))
	create := fmt.Sprintf("%s new-session -s %s -c %s", b.binary, shellQuote(name), shellQuote(workingDir))
	if runStartup && strings.TrimSpace(startupCommand) != "" {
		create += " " + shellQuote(startupCommand)
	}
	return fmt.Sprintf("%s || %s", attach, create)
}

// SessionExists is a best-effort probe for the named session.
func (b *Bridge) SessionExists(ctx context.Context, name string) (bool, error) {
	out, err := b.runner.Run(ctx, b.binary, "has-session", "-t", name)
	if err == nil {
		return true, nil
	}
	if isNoSession(out) {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	// tmux exits non-zero both for "no such session" and for real failures;
	// anything not recognized as the former is reported as a probe error.
	if _, execErr := exec.LookPath(b.binary); execErr != nil {
		return false, execErr
	}
	return false, nil
}

// KillSession terminates the named session. Killing a session that does not
// exist is not an error.
func (b *Bridge) KillSession(ctx context.Context, name string) error {
	out, err := b.runner.Run(ctx, b.binary, "kill-session", "-t", name)
	if err == nil {
		return nil
	}
	if isNoSession(out) {
		return nil
	}
	b.log.Debug("mux kill-session failed", "session", name, "err", err, "output", out)
	return fmt.Errorf("kill session %s: %w", name, err)
}

func isNoSession(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no server running") ||
		strings.Contains(lower, "can't find session") ||
		strings.Contains(lower, "session not found") ||
		strings.Contains(lower, "no such session")
}

// SanitizeName derives a tmux-safe session name from a project display name:
// lower-cased, runs of non-alphanumeric characters collapsed to a single
// dash, leading and trailing dashes trimmed.
func SanitizeName(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "session"
	}
	return out
}

// shellQuote wraps a value in single quotes, escaping embedded quotes, so it
// survives the shell invocation built by AttachOrCreate.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
