package schema

// Session lifecycle.

// StartSessionRequest describes a request to start a project session.
type StartSessionRequest struct {
	ProjectID   ProjectID
	Path        string
	Command     string
	DisplayName ProjectName
	RunCommand  string
	YoloMode    bool
}

// StartSessionResponse reports the started (or already running) session.
type StartSessionResponse struct {
	Session SessionSnapshot
	Resumed bool
}

// StopSessionRequest describes a request to stop a project session.
type StopSessionRequest struct {
	ProjectID ProjectID
}

// StopSessionResponse reports the stopped session snapshot.
type StopSessionResponse struct {
	Session SessionSnapshot
}

// SendInputRequest carries consumer keystrokes for a project's process.
type SendInputRequest struct {
	ProjectID ProjectID
	Data      []byte
}

// SendInputResponse reports whether a live session accepted the input.
type SendInputResponse struct {
	Delivered bool
}

// ResizeRequest adjusts the PTY dimensions for a project.
type ResizeRequest struct {
	ProjectID ProjectID
	Cols      uint16
	Rows      uint16
}

// Status hooks.

// HookEventRequest is the callback payload delivered by the agent CLI hooks.
type HookEventRequest struct {
	Kind      HookEventKind `json:"event"`
	ProjectID ProjectID     `json:"projectId"`
	SessionID string        `json:"sessionId,omitempty"`
}

// HookEventResponse reports the state the event mapped to.
type HookEventResponse struct {
	State SessionState `json:"state"`
}

// History replay.

// HistoryRequest asks for the buffered output of a project.
type HistoryRequest struct {
	ProjectID ProjectID
}

// HistoryResponse carries buffered chunks in original order. NextSeq is the
// sequence number the live stream continues from.
type HistoryResponse struct {
	Chunks  []OutputEvent
	NextSeq uint64
}
