package schema

import "time"

// ProjectID identifies a project. It is stable for the project's lifetime.
type ProjectID string

// ProjectName is the user-facing display name of a project.
type ProjectName string

// SessionState describes the lifecycle state of a project session.
type SessionState string

const (
	// StateIdle means no session is running for the project.
	StateIdle SessionState = "idle"
	// StateRunning means the session process has been spawned.
	StateRunning SessionState = "running"
	// StateReady means the agent reported it is waiting for input.
	StateReady SessionState = "ready"
	// StateWorking means the agent is processing a prompt.
	StateWorking SessionState = "working"
	// StateWaiting means the agent raised a notification and awaits the user.
	StateWaiting SessionState = "waiting"
	// StateCompleted means the session process exited with code zero.
	StateCompleted SessionState = "completed"
	// StateError means the session process exited non-zero or failed to spawn.
	StateError SessionState = "error"
	// StateUnknown is reported for hook events this version does not map.
	StateUnknown SessionState = "unknown"
)

// OutputKind classifies a terminal output chunk.
type OutputKind string

const (
	// OutputStdout is live process output.
	OutputStdout OutputKind = "stdout"
	// OutputSystem is output generated by agentmux itself.
	OutputSystem OutputKind = "system"
	// OutputHistory marks chunks replayed from the history buffer.
	OutputHistory OutputKind = "history"
	// OutputError is an error line surfaced on behalf of the process.
	OutputError OutputKind = "error"
)

// HookEventKind names the agent CLI lifecycle events delivered via hooks.
type HookEventKind string

const (
	// HookStop fires when the agent finishes a turn.
	HookStop HookEventKind = "Stop"
	// HookSubagentStop fires when a subagent finishes.
	HookSubagentStop HookEventKind = "SubagentStop"
	// HookUserPromptSubmit fires when the user submits a prompt.
	HookUserPromptSubmit HookEventKind = "UserPromptSubmit"
	// HookNotification fires when the agent requests user attention.
	HookNotification HookEventKind = "Notification"
)

// StateForHookEvent maps a hook event kind to the session state it implies.
func StateForHookEvent(kind HookEventKind) SessionState {
	switch kind {
	case HookStop, HookSubagentStop:
		return StateReady
	case HookUserPromptSubmit:
		return StateWorking
	case HookNotification:
		return StateWaiting
	default:
		return StateUnknown
	}
}

// SessionSnapshot is a read-only view of one project session.
type SessionSnapshot struct {
	ProjectID    ProjectID    `json:"projectId"`
	Name         ProjectName  `json:"name"`
	Path         string       `json:"path"`
	State        SessionState `json:"state"`
	LastActivity time.Time    `json:"lastActivity"`
	HasProcess   bool         `json:"hasProcess"`
	HasRunner    bool         `json:"hasRunner"`
}
