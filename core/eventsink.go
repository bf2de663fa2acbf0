package core

import "pkt.systems/agentmux/schema"

// EventSink receives output, state, and exit events from the session service.
type EventSink interface {
	OnOutput(event schema.OutputEvent)
	OnState(event schema.StateEvent)
	OnExit(event schema.ExitEvent)
}
