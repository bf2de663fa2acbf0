package core

import (
	"time"

	"pkt.systems/agentmux/schema"
)

// session is the live record for one running project. It is owned by the
// service: all mutation happens under the service mutex.
type session struct {
	id           schema.ProjectID
	name         schema.ProjectName
	path         string
	muxName      string
	state        schema.SessionState
	lastActivity time.Time

	// proc is present only while the session is running. At most one live
	// handle exists per project id at any time.
	proc ProcessHandle
	// runner is the optional project-configured companion process.
	runner BackgroundHandle

	history *historyBuffer
}

// Snapshot returns a read-only view of the session.
func (s *session) Snapshot() schema.SessionSnapshot {
	return schema.SessionSnapshot{
		ProjectID:    s.id,
		Name:         s.name,
		Path:         s.path,
		State:        s.state,
		LastActivity: s.lastActivity,
		HasProcess:   s.proc != nil,
		HasRunner:    s.runner != nil,
	}
}
