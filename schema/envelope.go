package schema

import "encoding/json"

// Message is the symmetric JSON envelope used on the websocket transport.
type Message struct {
	Type      string          `json:"type"`
	ProjectID ProjectID       `json:"projectId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Server-initiated message types.
const (
	// MsgProjectsState carries the full project-list snapshot.
	MsgProjectsState = "projects-state"
	// MsgProjectReady signals the agent is ready for input.
	MsgProjectReady = "project-ready"
	// MsgProjectWorking signals the agent is processing a prompt.
	MsgProjectWorking = "project-working"
	// MsgProjectStarted signals a session started.
	MsgProjectStarted = "project-started"
	// MsgProjectStopped signals a session stopped or exited.
	MsgProjectStopped = "project-stopped"
	// MsgTerminalOutput carries terminal output chunks.
	MsgTerminalOutput = "terminal-output"
)

// Client-initiated message types.
const (
	// MsgSelectProject subscribes the client to a project's output stream.
	MsgSelectProject = "select-project"
	// MsgInput carries keystrokes for a project's process.
	MsgInput = "input"
	// MsgStartProject asks the server to start a session.
	MsgStartProject = "start-project"
	// MsgStopProject asks the server to stop a session.
	MsgStopProject = "stop-project"
	// MsgResize adjusts the PTY size.
	MsgResize = "resize"
	// MsgPing is answered with a pong message of the same shape.
	MsgPing = "ping"
)

// StatusChangeType returns the envelope type for a session state transition,
// e.g. "ready-status-change".
func StatusChangeType(state SessionState) string {
	return string(state) + "-status-change"
}

// CallRequest is the generic request surface: one endpoint keyed by call name
// plus a positional argument array.
type CallRequest struct {
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args,omitempty"`
}

// CallResult is the success/error/data envelope shared by the desktop and
// network request surfaces.
type CallResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK wraps data in a successful CallResult.
func OK(data any) CallResult {
	return CallResult{Success: true, Data: data}
}

// Fail wraps an error message in a failed CallResult.
func Fail(message string) CallResult {
	return CallResult{Success: false, Error: message}
}
