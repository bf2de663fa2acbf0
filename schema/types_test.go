package schema

import "testing"

func TestStateForHookEvent(t *testing.T) {
	cases := []struct {
		kind HookEventKind
		want SessionState
	}{
		{HookStop, StateReady},
		{HookSubagentStop, StateReady},
		{HookUserPromptSubmit, StateWorking},
		{HookNotification, StateWaiting},
		{"PreToolUse", StateUnknown},
		{"", StateUnknown},
	}
	for _, tc := range cases {
		if got := StateForHookEvent(tc.kind); got != tc.want {
			t.Fatalf("StateForHookEvent(%q) = %s, want %s", tc.kind, got, tc.want)
		}
	}
}

func TestStatusChangeType(t *testing.T) {
	if got := StatusChangeType(StateReady); got != "ready-status-change" {
		t.Fatalf("unexpected type: %q", got)
	}
	if got := StatusChangeType(StateWorking); got != "working-status-change" {
		t.Fatalf("unexpected type: %q", got)
	}
}

func TestNotificationsEnabledDefaultsOn(t *testing.T) {
	var s Settings
	if !s.NotificationsEnabled() {
		t.Fatalf("nil preference must default to enabled")
	}
	off := false
	s.NotificationsOn = &off
	if s.NotificationsEnabled() {
		t.Fatalf("explicit false must disable")
	}
}
