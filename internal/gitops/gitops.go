package gitops

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"pkt.systems/agentmux/schema"
	"pkt.systems/pslog"
)

// Run executes a git command in the provided directory.
func Run(ctx context.Context, dir string, args ...string) (string, error) {
	log := pslog.Ctx(ctx).With("dir", dir, "args", strings.Join(args, " "))
	log.Debug("git run start")
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		preview := strings.TrimSpace(string(output))
		truncated := false
		if len(preview) > 200 {
			preview = preview[:200]
			truncated = true
		}
		log.Warn("git run failed", "err", err, "output", preview, "truncated", truncated)
		return string(output), fmt.Errorf("git %s failed: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	log.Debug("git run ok", "output_len", len(output))
	return string(output), nil
}

// CurrentBranch returns the checked-out branch name.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Status returns porcelain status output.
func Status(ctx context.Context, dir string) (string, error) {
	return Run(ctx, dir, "status", "--porcelain=v1")
}

// Diff returns the working tree diff, optionally limited to one file.
func Diff(ctx context.Context, dir, file string) (string, error) {
	args := []string{"diff"}
	if file != "" {
		args = append(args, "--", file)
	}
	return Run(ctx, dir, args...)
}

// Revert discards working tree changes to a file.
func Revert(ctx context.Context, dir, file string) error {
	if strings.TrimSpace(file) == "" {
		return schema.ErrInvalidRequest
	}
	_, err := Run(ctx, dir, "checkout", "--", file)
	return err
}

// Commit stages everything and commits with the provided message, refusing to
// operate on a restricted branch.
func Commit(ctx context.Context, dir, message string, restricted []string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", schema.ErrInvalidRequest
	}
	if err := guardBranch(ctx, dir, restricted); err != nil {
		return "", err
	}
	if _, err := Run(ctx, dir, "add", "-A"); err != nil {
		return "", err
	}
	return Run(ctx, dir, "commit", "-m", message)
}

// Push pushes the current branch, refusing to operate on a restricted branch.
func Push(ctx context.Context, dir string, restricted []string) (string, error) {
	if err := guardBranch(ctx, dir, restricted); err != nil {
		return "", err
	}
	return Run(ctx, dir, "push")
}

func guardBranch(ctx context.Context, dir string, restricted []string) error {
	if len(restricted) == 0 {
		return nil
	}
	branch, err := CurrentBranch(ctx, dir)
	if err != nil {
		return err
	}
	for _, name := range restricted {
		if strings.EqualFold(strings.TrimSpace(name), branch) {
			return fmt.Errorf("%w: %s", schema.ErrRestrictedBranch, branch)
		}
	}
	return nil
}

// RunScript executes a project-configured shell command (e.g. a test command)
// with a bounded timeout and returns its combined output.
func RunScript(ctx context.Context, dir, command string, timeout time.Duration) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", schema.ErrInvalidRequest
	}
	if timeout <= 0 {
		timeout = schema.DefaultTestCommandTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	// The command runs in its own process group so the timeout reaches
	// children too; a child holding the inherited output pipe would otherwise
	// keep CombinedOutput blocked long past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return string(output), fmt.Errorf("command timed out after %s", timeout)
	}
	return string(output), err
}
