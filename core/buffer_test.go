package core

import (
	"strings"
	"testing"

	"pkt.systems/agentmux/schema"
)

func TestBufferAssignsSequentialSeqs(t *testing.T) {
	buf := newHistoryBuffer("demo", 100)
	for i := 0; i < 3; i++ {
		event := buf.Append("x", schema.OutputStdout)
		if event.Seq != uint64(i) {
			t.Fatalf("expected seq %d, got %d", i, event.Seq)
		}
	}
	chunks, next := buf.Snapshot()
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if next != 3 {
		t.Fatalf("expected next seq 3, got %d", next)
	}
}

func TestBufferEvictsOldestFirst(t *testing.T) {
	buf := newHistoryBuffer("demo", 10)
	buf.Append("aaaa", schema.OutputStdout)
	buf.Append("bbbb", schema.OutputStdout)
	buf.Append("cccc", schema.OutputStdout)

	chunks, next := buf.Snapshot()
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks after eviction, got %d", len(chunks))
	}
	if chunks[0].Data != "bbbb" || chunks[1].Data != "cccc" {
		t.Fatalf("expected oldest chunk evicted, got %q and %q", chunks[0].Data, chunks[1].Data)
	}
	if buf.Len() != 8 {
		t.Fatalf("expected 8 buffered bytes, got %d", buf.Len())
	}
	// Sequence numbering keeps counting across eviction.
	if chunks[0].Seq != 1 || chunks[1].Seq != 2 {
		t.Fatalf("expected seqs 1 and 2, got %d and %d", chunks[0].Seq, chunks[1].Seq)
	}
	if next != 3 {
		t.Fatalf("expected next seq 3, got %d", next)
	}
}

func TestBufferOversizedChunkKeepsTail(t *testing.T) {
	buf := newHistoryBuffer("demo", 8)
	buf.Append("old", schema.OutputStdout)
	event := buf.Append(strings.Repeat("ab", 10), schema.OutputStdout)
	if len(event.Data) != 20 {
		t.Fatalf("emitted event must carry the full chunk, got %d bytes", len(event.Data))
	}

	chunks, _ := buf.Snapshot()
	if len(chunks) != 1 {
		t.Fatalf("expected single chunk, got %d", len(chunks))
	}
	if chunks[0].Data != "abababab" {
		t.Fatalf("expected tail of oversized chunk, got %q", chunks[0].Data)
	}
	if buf.Len() != 8 {
		t.Fatalf("expected buffer at cap, got %d", buf.Len())
	}
}

func TestBufferSnapshotIsCopy(t *testing.T) {
	buf := newHistoryBuffer("demo", 100)
	buf.Append("one", schema.OutputStdout)
	chunks, _ := buf.Snapshot()
	chunks[0].Data = "mutated"
	again, _ := buf.Snapshot()
	if again[0].Data != "one" {
		t.Fatalf("snapshot mutation leaked into buffer: %q", again[0].Data)
	}
}
