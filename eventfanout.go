package agentmux

import (
	"pkt.systems/agentmux/core"
	"pkt.systems/agentmux/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnOutput(event schema.OutputEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnOutput(event)
	}
}

func (f eventFanout) OnState(event schema.StateEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnState(event)
	}
}

func (f eventFanout) OnExit(event schema.ExitEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnExit(event)
	}
}
