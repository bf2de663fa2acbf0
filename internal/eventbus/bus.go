package eventbus

import (
	"context"
	"sync"

	"pkt.systems/agentmux/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventOutput carries an output chunk for a project.
	EventOutput EventType = "output"
	// EventState carries a session state transition.
	EventState EventType = "state"
	// EventExit carries a session process exit.
	EventExit EventType = "exit"
)

// Event is one item on the broadcast stream. Consumers receive the global
// stream and self-filter by project id.
type Event struct {
	Type   EventType
	Output schema.OutputEvent
	State  schema.StateEvent
	Exit   schema.ExitEvent
}

// ProjectID returns the project the event belongs to.
func (e Event) ProjectID() schema.ProjectID {
	switch e.Type {
	case EventOutput:
		return e.Output.ProjectID
	case EventState:
		return e.State.ProjectID
	case EventExit:
		return e.Exit.ProjectID
	}
	return ""
}

// Bus fans events out to subscribers. Delivery is non-blocking: a subscriber
// whose channel is full loses the event rather than stalling the publisher.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber and returns its channel plus a cancel func.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.Debug("eventbus subscribe", "subs", count)
	}
	return ch, func() {
		// Removal and close happen under the same lock publish sends under,
		// so a publisher can never hit a just-closed channel. The presence
		// check makes a second cancel a no-op.
		b.mu.Lock()
		_, present := b.subs[ch]
		delete(b.subs, ch)
		if present {
			close(ch)
		}
		b.mu.Unlock()
		if present && b.log != nil {
			b.log.Debug("eventbus unsubscribe")
		}
	}
}

// OnOutput publishes an output event.
func (b *Bus) OnOutput(event schema.OutputEvent) {
	b.publish(Event{Type: EventOutput, Output: event})
}

// OnState publishes a state transition event.
func (b *Bus) OnState(event schema.StateEvent) {
	b.publish(Event{Type: EventState, State: event})
}

// OnExit publishes a process exit event.
func (b *Bus) OnExit(event schema.ExitEvent) {
	b.publish(Event{Type: EventExit, Exit: event})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	// Sends stay under the lock; they are non-blocking so the hold time is
	// bounded, and unsubscribe cannot close a channel mid-send.
	b.mu.Lock()
	dropped := 0
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.Trace("eventbus dropped", "project", event.ProjectID(), "count", dropped)
	}
}
