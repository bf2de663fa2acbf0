package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pkt.systems/agentmux/core"
	"pkt.systems/agentmux/internal/logx"
	"pkt.systems/agentmux/schema"
	"pkt.systems/pslog"
)

// ItemSource resolves stored project items for start requests that only carry
// a project id.
type ItemSource interface {
	Item(id string) (schema.UnifiedItem, error)
}

// outputPayload is the data portion of a terminal-output envelope.
type outputPayload struct {
	Seq  uint64            `json:"seq"`
	Data string            `json:"data"`
	Kind schema.OutputKind `json:"kind"`
}

// exitPayload is the data portion of a project-stopped envelope.
type exitPayload struct {
	Code int `json:"code"`
}

type resizePayload struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// Hub owns the websocket consumers. It implements core.EventSink: session
// events fan out to every connected client over per-client buffered channels.
// Delivery never applies backpressure upstream: a full client buffer drops
// the event, a failed write removes the client.
type Hub struct {
	service  core.Service
	items    ItemSource
	log      pslog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub constructs a Hub serving the given service.
func NewHub(service core.Service, items ItemSource, logger pslog.Logger) *Hub {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Hub{
		service: service,
		items:   items,
		log:     logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The server binds to the local network; origin checks add
			// nothing without an auth layer in front.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// OnOutput implements core.EventSink. Output is delivered only to clients
// subscribed to the project, skipping chunks already covered by their replay.
func (h *Hub) OnOutput(event schema.OutputEvent) {
	data, err := json.Marshal(outputPayload{Seq: event.Seq, Data: event.Data, Kind: event.Kind})
	if err != nil {
		return
	}
	msg := schema.Message{
		Type:      schema.MsgTerminalOutput,
		ProjectID: event.ProjectID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, c := range h.snapshotClients() {
		c.deliverOutput(event.ProjectID, event.Seq, msg)
	}
}

// OnState implements core.EventSink. State transitions go to every client as
// a generic status-change envelope plus the typed ready/working shortcuts.
func (h *Hub) OnState(event schema.StateEvent) {
	ts := event.Timestamp.UnixMilli()
	h.broadcast(schema.Message{
		Type:      schema.StatusChangeType(event.State),
		ProjectID: event.ProjectID,
		Timestamp: ts,
	})
	switch event.State {
	case schema.StateReady:
		h.broadcast(schema.Message{Type: schema.MsgProjectReady, ProjectID: event.ProjectID, Timestamp: ts})
	case schema.StateWorking:
		h.broadcast(schema.Message{Type: schema.MsgProjectWorking, ProjectID: event.ProjectID, Timestamp: ts})
	case schema.StateRunning:
		h.broadcast(schema.Message{Type: schema.MsgProjectStarted, ProjectID: event.ProjectID, Timestamp: ts})
	case schema.StateIdle:
		h.broadcast(schema.Message{Type: schema.MsgProjectStopped, ProjectID: event.ProjectID, Timestamp: ts})
	}
}

// OnExit implements core.EventSink.
func (h *Hub) OnExit(event schema.ExitEvent) {
	data, err := json.Marshal(exitPayload{Code: event.Code})
	if err != nil {
		return
	}
	h.broadcast(schema.Message{
		Type:      schema.MsgProjectStopped,
		ProjectID: event.ProjectID,
		Data:      data,
		Timestamp: event.Timestamp.UnixMilli(),
	})
}

func (h *Hub) broadcast(msg schema.Message) {
	for _, c := range h.snapshotClients() {
		c.enqueue(msg)
	}
}

func (h *Hub) snapshotClients() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// ClientCount reports the number of connected consumers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request and runs the client until it disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", clientIP(r), "err", err)
		return
	}
	id := uuid.NewString()
	c := &client{
		id:       id,
		hub:      h,
		conn:     conn,
		send:     make(chan schema.Message, 256),
		done:     make(chan struct{}),
		selected: make(map[schema.ProjectID]uint64),
		pending:  make(map[schema.ProjectID][]schema.Message),
		log:      h.log.With("consumer", id[:8], "remote", clientIP(r)),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	c.log.Info("consumer connected", "consumers", count)

	// The write pump must run before the snapshot is queued so a large
	// project list cannot fill the send buffer unattended.
	go c.writePump()
	c.sendProjectsState(r.Context())
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	if present {
		c.log.Info("consumer disconnected", "consumers", count)
	}
}

func (c *client) sendProjectsState(ctx context.Context) {
	snaps := c.hub.service.ProjectsState(ctx)
	data, err := json.Marshal(snaps)
	if err != nil {
		return
	}
	c.enqueue(schema.Message{
		Type:      schema.MsgProjectsState,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// selectProject subscribes the client to a project stream: replay the history
// buffer first, then continue with the live stream. Live chunks that arrive
// while the replay is still queueing are parked and flushed once the replay
// is fully queued, so replayed output always precedes live output and no
// chunk is delivered twice.
func (c *client) selectProject(ctx context.Context, projectID schema.ProjectID) {
	log := logx.WithProject(ctx, projectID)
	resp, err := c.hub.service.History(ctx, schema.HistoryRequest{ProjectID: projectID})
	if err != nil {
		// Unknown project still subscribes; the stream begins when the
		// session starts.
		c.mu.Lock()
		c.selected[projectID] = 0
		delete(c.pending, projectID)
		c.mu.Unlock()
		log.Debug("consumer subscribed without history", "err", err)
		return
	}
	c.mu.Lock()
	c.selected[projectID] = resp.NextSeq
	c.pending[projectID] = nil
	c.mu.Unlock()

	complete := true
	for _, chunk := range resp.Chunks {
		data, err := json.Marshal(outputPayload{Seq: chunk.Seq, Data: chunk.Data, Kind: schema.OutputHistory})
		if err != nil {
			continue
		}
		// Replay uses a blocking send so history is complete; dead clients
		// are abandoned after a timeout.
		if !c.enqueueBlocking(schema.Message{
			Type:      schema.MsgTerminalOutput,
			ProjectID: projectID,
			Data:      data,
			Timestamp: time.Now().UnixMilli(),
		}) {
			log.Warn("history replay abandoned, consumer too slow")
			complete = false
			break
		}
	}

	// Flushing under the mutex closes the replay window atomically: once the
	// key is gone, live delivery goes straight to the send buffer.
	c.mu.Lock()
	parked := c.pending[projectID]
	delete(c.pending, projectID)
	if complete {
		for _, msg := range parked {
			c.enqueue(msg)
		}
	}
	c.mu.Unlock()
	if complete {
		log.Debug("history replayed", "chunks", len(resp.Chunks), "parked", len(parked), "next_seq", resp.NextSeq)
	}
}

// deliverOutput routes one live output event for this client: dropped unless
// the project is subscribed and the sequence is past the replay cursor,
// parked while a replay is queueing, enqueued otherwise.
func (c *client) deliverOutput(projectID schema.ProjectID, seq uint64, msg schema.Message) {
	c.mu.Lock()
	next, ok := c.selected[projectID]
	if !ok || seq < next {
		c.mu.Unlock()
		return
	}
	c.selected[projectID] = seq + 1
	if parked, replaying := c.pending[projectID]; replaying {
		c.pending[projectID] = append(parked, msg)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.enqueue(msg)
}
