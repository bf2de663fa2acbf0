package httpapi

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/agentmux/internal/logx"
	"pkt.systems/agentmux/schema"
	"pkt.systems/pslog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024
	replayTimeout  = 5 * time.Second
)

// client is one websocket consumer.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan schema.Message
	done chan struct{}
	log  pslog.Logger

	closeOnce sync.Once

	mu sync.Mutex
	// selected maps subscribed projects to the next live sequence number the
	// client expects; everything below it was covered by replay.
	selected map[schema.ProjectID]uint64
	// pending parks live chunks that arrive while a replay for the project is
	// still queueing; presence of the key marks the replay in progress.
	pending map[schema.ProjectID][]schema.Message
}

// enqueue queues a message without blocking. A full buffer drops the message;
// the consumer is behind and terminal output is not worth stalling for.
func (c *client) enqueue(msg schema.Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.log.Trace("consumer buffer full, dropped", "type", msg.Type)
	}
}

// enqueueBlocking queues a message, waiting up to replayTimeout. Used for
// history replay where completeness matters more than latency.
func (c *client) enqueueBlocking(msg schema.Message) bool {
	select {
	case <-c.done:
		return false
	case c.send <- msg:
		return true
	case <-time.After(replayTimeout):
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("consumer write failed", "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.close()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug("consumer read failed", "err", err)
			}
			return
		}
		var msg schema.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("consumer message unreadable", "err", err)
			continue
		}
		c.handle(context.Background(), msg)
	}
}

func (c *client) handle(ctx context.Context, msg schema.Message) {
	switch msg.Type {
	case schema.MsgSelectProject:
		c.selectProject(ctx, msg.ProjectID)
	case schema.MsgInput:
		var data string
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return
		}
		_, _ = c.hub.service.SendInput(ctx, schema.SendInputRequest{
			ProjectID: msg.ProjectID,
			Data:      []byte(data),
		})
	case schema.MsgStartProject:
		c.startProject(ctx, msg.ProjectID)
	case schema.MsgStopProject:
		if _, err := c.hub.service.StopSession(ctx, schema.StopSessionRequest{ProjectID: msg.ProjectID}); err != nil {
			logx.WithProject(ctx, msg.ProjectID).Debug("consumer stop failed", "err", err)
		}
	case schema.MsgResize:
		var payload resizePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return
		}
		_ = c.hub.service.Resize(ctx, schema.ResizeRequest{
			ProjectID: msg.ProjectID,
			Cols:      payload.Cols,
			Rows:      payload.Rows,
		})
	case schema.MsgPing:
		c.enqueue(schema.Message{Type: "pong", Timestamp: time.Now().UnixMilli()})
	default:
		c.log.Debug("consumer message ignored", "type", msg.Type)
	}
}

// startProject resolves the stored item and starts (or resumes) its session.
// A resumed session behaves like a fresh subscription: history replays and
// the live stream continues from there.
func (c *client) startProject(ctx context.Context, projectID schema.ProjectID) {
	log := logx.WithProject(ctx, projectID)
	req := schema.StartSessionRequest{ProjectID: projectID}
	if c.hub.items != nil {
		item, err := c.hub.items.Item(string(projectID))
		if err != nil {
			log.Warn("consumer start rejected, unknown item", "err", err)
			return
		}
		req.Path = item.Path
		req.DisplayName = schema.ProjectName(item.Name)
		req.RunCommand = item.RunCommand
		req.YoloMode = item.YoloMode
	}
	resp, err := c.hub.service.StartSession(ctx, req)
	if err != nil {
		log.Warn("consumer start failed", "err", err)
		return
	}
	log.Info("consumer started session", "resumed", resp.Resumed)
	c.selectProject(ctx, projectID)
	c.sendProjectsState(ctx)
}
