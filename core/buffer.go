package core

import "pkt.systems/agentmux/schema"

// historyBuffer stores a project's output chunks in append order, capped at
// maxBytes. Oldest data is dropped once the cap is exceeded. Sequence numbers
// keep counting across evictions so live streams can resume after a replay
// without gaps or duplicates.
type historyBuffer struct {
	projectID schema.ProjectID
	chunks    []schema.OutputEvent
	size      int
	maxBytes  int
	nextSeq   uint64
}

func newHistoryBuffer(projectID schema.ProjectID, maxBytes int) *historyBuffer {
	if maxBytes <= 0 {
		maxBytes = schema.DefaultBufferMaxBytes
	}
	return &historyBuffer{projectID: projectID, maxBytes: maxBytes}
}

// Append records a chunk and returns the event carrying its sequence number.
func (b *historyBuffer) Append(data string, kind schema.OutputKind) schema.OutputEvent {
	event := schema.OutputEvent{
		ProjectID: b.projectID,
		Seq:       b.nextSeq,
		Data:      data,
		Kind:      kind,
	}
	b.nextSeq++
	if len(data) >= b.maxBytes {
		// A single oversized chunk replaces the whole buffer; keep its tail.
		kept := event
		kept.Data = data[len(data)-b.maxBytes:]
		b.chunks = b.chunks[:0]
		b.chunks = append(b.chunks, kept)
		b.size = len(kept.Data)
		return event
	}
	b.chunks = append(b.chunks, event)
	b.size += len(data)
	for b.size > b.maxBytes && len(b.chunks) > 1 {
		b.size -= len(b.chunks[0].Data)
		b.chunks = b.chunks[1:]
	}
	if b.size > b.maxBytes && len(b.chunks) == 1 {
		head := b.chunks[0]
		head.Data = head.Data[b.size-b.maxBytes:]
		b.chunks[0] = head
		b.size = len(head.Data)
	}
	return event
}

// Snapshot returns a copy of the buffered chunks in original order and the
// sequence number the live stream continues from.
func (b *historyBuffer) Snapshot() ([]schema.OutputEvent, uint64) {
	chunks := make([]schema.OutputEvent, len(b.chunks))
	copy(chunks, b.chunks)
	return chunks, b.nextSeq
}

// Len reports the buffered byte count.
func (b *historyBuffer) Len() int {
	return b.size
}
