package core

import (
	"sync"
	"time"

	"pkt.systems/agentmux/schema"
)

// cooldown tracks when a notification was last shown per project. It is
// purely time-based: the window resets by the passage of time, never by an
// explicit clear.
type cooldown struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[schema.ProjectID]time.Time
}

func newCooldown(window time.Duration) *cooldown {
	if window <= 0 {
		window = schema.DefaultNotifyDebounce
	}
	return &cooldown{
		window:   window,
		lastSeen: make(map[schema.ProjectID]time.Time),
	}
}

// ShouldNotify reports whether a notification may be shown for the project at
// the given instant, and records the instant when it may.
func (c *cooldown) ShouldNotify(projectID schema.ProjectID, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastSeen[projectID]; ok && now.Sub(last) < c.window {
		return false
	}
	c.lastSeen[projectID] = now
	return true
}
