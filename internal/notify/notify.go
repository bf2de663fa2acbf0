package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"pkt.systems/pslog"
)

// OSNotifier shows desktop notifications via the platform's native tool:
// osascript on macOS, notify-send elsewhere. Failures are returned to the
// caller and never fatal; a missing tool just means no notifications.
type OSNotifier struct {
	log pslog.Logger
}

// New constructs an OSNotifier.
func New(logger pslog.Logger) *OSNotifier {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &OSNotifier{log: logger}
}

// Notify displays a notification with the given title and body.
func (n *OSNotifier) Notify(title, body string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		cmd = exec.Command("osascript", "-e", script)
	default:
		cmd = exec.Command("notify-send", title, body)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		n.log.Debug("notification command failed", "err", err, "output", strings.TrimSpace(string(out)))
		return err
	}
	return nil
}
