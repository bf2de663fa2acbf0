package schema

import "time"

// OutputEvent represents one chunk of output appended to a project's stream.
// Seq is monotonically increasing per project and shared with the history
// buffer, so consumers can replay history and resume the live stream without
// gaps or duplicates.
type OutputEvent struct {
	ProjectID ProjectID
	Seq       uint64
	Data      string
	Kind      OutputKind
}

// StateEvent represents a session state transition.
type StateEvent struct {
	ProjectID ProjectID
	State     SessionState
	Hook      HookEventKind
	Timestamp time.Time
}

// ExitEvent reports the session process exit.
type ExitEvent struct {
	ProjectID ProjectID
	Code      int
	Timestamp time.Time
}
