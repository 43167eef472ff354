package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-attendance/internal/engine"
	"github.com/npezzotti/go-attendance/internal/stats"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024

	// opTimeout bounds a single client operation, which may wait on the
	// store and the remote authority.
	opTimeout = 30 * time.Second
)

type Client struct {
	conn     *websocket.Conn
	hub      *Hub
	log      logrus.FieldLogger
	identity string
	session  Session
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(conn *websocket.Conn, h *Hub, id string, l logrus.FieldLogger) *Client {
	return &Client{
		conn:     conn,
		hub:      h,
		log:      l,
		identity: id,
		send:     make(chan *ServerMessage, 256),
		stop:     make(chan struct{}),
	}
}

// Notify queues an engine notification for the connection.
func (c *Client) Notify(msg string) {
	c.queueMessage(MessageNotification(msg))
}

// LockStatus queues a lock status refresh for the connection.
func (c *Client) LockStatus(s engine.LockStatus) {
	c.queueMessage(LockStatusNotification(s))
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.WithError(err).Error("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("ws: read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Debug("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}
		msg.Timestamp = Now()

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		c.queueMessage(c.handle(ctx, &msg))
		cancel()
	}
}

// handle runs one client request against the session and returns the
// response. Notifications produced by the request are queued before it.
func (c *Client) handle(ctx context.Context, msg *ClientMessage) *ServerMessage {
	switch {
	case msg.Join != nil:
		if err := c.session.Join(ctx, msg.Join.RoomId); err != nil {
			return ErrResponse(msg.Id, err)
		}
		c.hub.stats.Incr(stats.NumJoins)
		return NoErrOK(msg.Id, c.status())
	case msg.Leave != nil:
		c.session.Leave(ctx)
		return NoErrOK(msg.Id, c.status())
	case msg.Timer != nil:
		minutes, err := engine.ParseMinutes(msg.Timer.Minutes)
		if err != nil {
			return ErrResponse(msg.Id, err)
		}
		if err := c.session.SetTimer(ctx, minutes); err != nil {
			return ErrResponse(msg.Id, err)
		}
		c.hub.stats.Incr(stats.NumLocksSet)
		return NoErrOK(msg.Id, c.status())
	case msg.Occupants != nil:
		people, err := c.session.Occupants(ctx, msg.Occupants.RoomId)
		if err != nil {
			return ErrResponse(msg.Id, err)
		}
		page := max(msg.Occupants.Page, 1)
		size := msg.Occupants.Size
		if size <= 0 {
			size = engine.DefaultPageSize
		}
		items, more := engine.Page(people, page, size)
		return NoErrOK(msg.Id, OccupantsPage{
			RoomId:    msg.Occupants.RoomId,
			Page:      page,
			Total:     len(people),
			More:      more,
			Occupants: items,
		})
	case msg.Status != nil:
		return NoErrOK(msg.Id, c.status())
	default:
		return ErrInvalidMessage(msg.Id)
	}
}

func (c *Client) status() StatusData {
	return StatusData{
		Session:    c.session.Session(),
		LockStatus: c.session.LockStatus(),
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.WithError(err).Warn("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup ends the session. A closed connection counts as leaving.
func (c *Client) cleanup() {
	c.hub.deregister(c)
	c.session.Close(context.Background())
	c.stopClient()
}
