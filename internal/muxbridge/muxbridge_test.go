package muxbridge

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type scriptedRunner struct {
	output string
	err    error
	calls  [][]string
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	r.calls = append(r.calls, call)
	return r.output, r.err
}

func TestAttachOrCreateComposesFallback(t *testing.T) {
	b := New("tmux", nil)
	cmd := b.AttachOrCreate("demo", "/work/demo", "claude", true)
	want := "tmux attach-session -t 'demo' || tmux new-session -s 'demo' -c '/work/demo' 'claude'"
	if cmd != want {
		t.Fatalf("unexpected command:\n got %q\nwant %q", cmd, want)
	}
}

func TestAttachOrCreateSkipsStartupWhenResuming(t *testing.T) {
	b := New("tmux", nil)
	cmd := b.AttachOrCreate("demo", "/work/demo", "claude", false)
	if strings.Contains(cmd, "'claude'") {
		t.Fatalf("startup command must be omitted when the session pre-exists: %q", cmd)
	}
	if !strings.Contains(cmd, "||") {
		t.Fatalf("fallback operator missing: %q", cmd)
	}
}

func TestAttachOrCreateQuotesEmbeddedQuotes(t *testing.T) {
	b := New("tmux", nil)
	cmd := b.AttachOrCreate("demo", "/work/it's here", "", true)
	if !strings.Contains(cmd, `'/work/it'\''s here'`) {
		t.Fatalf("single quote not escaped: %q", cmd)
	}
}

func TestSessionExistsRecognizesMissingSession(t *testing.T) {
	runner := &scriptedRunner{output: "can't find session: demo", err: errors.New("exit status 1")}
	b := NewWithRunner("tmux", runner, nil)
	exists, err := b.SessionExists(context.Background(), "demo")
	if err != nil {
		t.Fatalf("session exists: %v", err)
	}
	if exists {
		t.Fatalf("missing session reported as existing")
	}
}

func TestSessionExistsWhenProbeSucceeds(t *testing.T) {
	runner := &scriptedRunner{}
	b := NewWithRunner("tmux", runner, nil)
	exists, err := b.SessionExists(context.Background(), "demo")
	if err != nil {
		t.Fatalf("session exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected session to exist")
	}
	if len(runner.calls) != 1 || runner.calls[0][1] != "has-session" {
		t.Fatalf("expected has-session probe, got %v", runner.calls)
	}
}

func TestKillSessionIdempotent(t *testing.T) {
	runner := &scriptedRunner{output: "no server running on /tmp/tmux-1000/default", err: errors.New("exit status 1")}
	b := NewWithRunner("tmux", runner, nil)
	if err := b.KillSession(context.Background(), "demo"); err != nil {
		t.Fatalf("killing a missing session must not error: %v", err)
	}
}

func TestKillSessionSurfacesRealFailures(t *testing.T) {
	runner := &scriptedRunner{output: "server exited unexpectedly", err: errors.New("exit status 1")}
	b := NewWithRunner("tmux", runner, nil)
	if err := b.KillSession(context.Background(), "demo"); err == nil {
		t.Fatalf("expected error for unrecognized failure")
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"My Project", "my-project"},
		{"web/frontend (v2)", "web-frontend-v2"},
		{"--already--", "already"},
		{"...", "session"},
		{"", "session"},
		{"UPPER_case.123", "upper-case-123"},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
