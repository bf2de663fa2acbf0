// Package desktop bridges session events to the local desktop window layer.
// The window itself is an external collaborator; this package only translates
// the broadcast stream into the typed events it consumes and tracks whether
// the window currently has focus.
package desktop

import (
	"context"
	"sync"
	"sync/atomic"

	"pkt.systems/agentmux/internal/eventbus"
	"pkt.systems/agentmux/schema"
	"pkt.systems/pslog"
)

// Sender delivers one typed event to the desktop window. Implementations must
// not block; delivery is best-effort.
type Sender interface {
	Send(event string, payload any)
}

// Desktop event names.
const (
	EventTerminalOutput      = "terminal-output"
	EventProcessExit         = "process-exit"
	EventAgentReady          = "agent-ready"
	EventAgentWorking        = "agent-working"
	EventStatusChange        = "status-change"
	EventMissingDependencies = "missing-dependencies"
)

// TerminalOutput is the payload of a terminal-output event.
type TerminalOutput struct {
	ProjectID schema.ProjectID  `json:"projectId"`
	Data      string            `json:"data"`
	Type      schema.OutputKind `json:"type"`
}

// ProcessExit is the payload of a process-exit event.
type ProcessExit struct {
	ProjectID schema.ProjectID `json:"projectId"`
	Code      int              `json:"code"`
}

// StatusChange is the payload of the agent status events.
type StatusChange struct {
	ProjectID schema.ProjectID    `json:"projectId"`
	State     schema.SessionState `json:"state"`
	Timestamp int64               `json:"timestamp"`
}

// Channel forwards broadcast events to the desktop window. It is one consumer
// of the shared event bus; a missing or failing window never affects the
// publishers or the network consumers.
type Channel struct {
	sender  Sender
	bus     *eventbus.Bus
	log     pslog.Logger
	focused atomic.Bool

	mu     sync.Mutex
	cancel func()
	donech chan struct{}
}

// NewChannel constructs a Channel. A nil sender is allowed; events are then
// dropped until the window layer attaches one via Start.
func NewChannel(bus *eventbus.Bus, sender Sender, logger pslog.Logger) *Channel {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Channel{sender: sender, bus: bus, log: logger}
}

// Start subscribes to the bus and begins forwarding. Calling Start twice is a
// no-op.
func (c *Channel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil || c.bus == nil {
		return
	}
	events, unsubscribe := c.bus.Subscribe()
	done := make(chan struct{})
	c.cancel = unsubscribe
	c.donech = done
	go c.run(events, done)
	c.log.Debug("desktop channel started")
}

// Stop unsubscribes and waits for the forwarding loop to drain.
func (c *Channel) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.donech
	c.cancel = nil
	c.donech = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.log.Debug("desktop channel stopped")
}

// SetFocused records whether the desktop window has focus. The notification
// path consults this to suppress notifications the user would see anyway.
func (c *Channel) SetFocused(focused bool) {
	c.focused.Store(focused)
}

// Focused reports the last known focus state.
func (c *Channel) Focused() bool {
	return c.focused.Load()
}

// ReportMissing pushes the missing-dependencies probe result to the window.
func (c *Channel) ReportMissing(binaries []string) {
	c.send(EventMissingDependencies, binaries)
}

func (c *Channel) run(events <-chan eventbus.Event, done chan struct{}) {
	defer close(done)
	for event := range events {
		switch event.Type {
		case eventbus.EventOutput:
			c.send(EventTerminalOutput, TerminalOutput{
				ProjectID: event.Output.ProjectID,
				Data:      event.Output.Data,
				Type:      event.Output.Kind,
			})
		case eventbus.EventState:
			payload := StatusChange{
				ProjectID: event.State.ProjectID,
				State:     event.State.State,
				Timestamp: event.State.Timestamp.UnixMilli(),
			}
			c.send(EventStatusChange, payload)
			switch event.State.State {
			case schema.StateReady:
				c.send(EventAgentReady, payload)
			case schema.StateWorking:
				c.send(EventAgentWorking, payload)
			}
		case eventbus.EventExit:
			c.send(EventProcessExit, ProcessExit{
				ProjectID: event.Exit.ProjectID,
				Code:      event.Exit.Code,
			})
		}
	}
}

func (c *Channel) send(event string, payload any) {
	if c.sender == nil {
		return
	}
	c.sender.Send(event, payload)
}
