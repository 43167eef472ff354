package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-attendance/internal/engine"
	"github.com/npezzotti/go-attendance/internal/stats"
	"github.com/npezzotti/go-attendance/internal/types"
	"github.com/sirupsen/logrus"
)

var ErrShuttingDown = errors.New("hub is shutting down")

// Session is the per-connection coordination state a client drives.
// *engine.Engine implements it.
type Session interface {
	Login(ctx context.Context, id string) (types.Person, error)
	Start(ctx context.Context) error
	Join(ctx context.Context, roomID string) error
	Leave(ctx context.Context)
	SetTimer(ctx context.Context, minutes int) error
	Occupants(ctx context.Context, roomID string) ([]types.Person, error)
	LockStatus() engine.LockStatus
	Session() engine.Session
	Close(ctx context.Context)
}

// SessionFactory builds a session that reports to n.
type SessionFactory func(n engine.Notifier, log logrus.FieldLogger) (Session, error)

type Hub struct {
	log            logrus.FieldLogger
	stats          stats.StatsProvider
	newSession     SessionFactory
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	registerChan   chan *Client
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}
}

type stopReq struct {
	done chan struct{}
}

func NewHub(logger logrus.FieldLogger, su stats.StatsProvider, newSession SessionFactory) *Hub {
	su.RegisterMetric(stats.NumConnections)
	su.RegisterMetric(stats.NumJoins)
	su.RegisterMetric(stats.NumLocksSet)

	return &Hub{
		log:            logger,
		stats:          su,
		newSession:     newSession,
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.registerChan:
			h.log.WithField("identity", client.identity).Debug("adding connection")
			h.addClient(client)
			h.stats.Incr(stats.NumConnections)
		case client := <-h.deRegisterChan:
			h.log.WithField("identity", client.identity).Debug("removing connection")
			if h.removeClient(client) {
				h.stats.Decr(stats.NumConnections)
			}
		case req := <-h.stop:
			h.log.Info("closing sessions")
			for _, c := range h.getClients() {
				c.stopClient()
				c.session.Close(context.Background())
			}

			close(h.done)
			close(req.done)
			return
		}
	}
}

// Connect logs the identity into a new session, starts watching for
// changes, and pumps messages over conn until either side goes away.
func (h *Hub) Connect(ctx context.Context, conn *websocket.Conn, id string) (*Client, error) {
	c := NewClient(conn, h, id, h.log.WithField("identity", id))

	sess, err := h.newSession(c, c.log)
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	if _, err := sess.Login(ctx, id); err != nil {
		sess.Close(ctx)
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		sess.Close(ctx)
		return nil, fmt.Errorf("start session: %w", err)
	}
	c.session = sess

	select {
	case h.registerChan <- c:
	case <-h.done:
		sess.Close(ctx)
		return nil, ErrShuttingDown
	}

	go c.Write()
	go c.Read()

	return c, nil
}

func (h *Hub) deregister(c *Client) {
	select {
	case h.deRegisterChan <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) removeClient(c *Client) bool {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	return true
}

func (h *Hub) getClients() []*Client {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// NumClients returns the number of registered connections.
func (h *Hub) NumClients() int {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()
	return len(h.clients)
}

// Shutdown closes every session and stops Run.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Info("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case h.stop <- req:
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}
