package websocket

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"chat-relay-server/domain"
	"chat-relay-server/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Conn adapts a gorilla WebSocket connection to domain.Connection:
// buffered outbound queue, read/write pumps, and an open flag that
// DispatchToIdentity consults before sending.
type Conn struct {
	id       string
	ws       *websocket.Conn
	send     chan []byte
	open     atomic.Bool
	registry domain.Registry
	handler  domain.MessageHandler
}

func NewConn(id string, ws *websocket.Conn, registry domain.Registry, handler domain.MessageHandler) *Conn {
	return &Conn{
		id:       id,
		ws:       ws,
		send:     make(chan []byte, 256),
		registry: registry,
		handler:  handler,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Open() bool { return c.open.Load() }

// Send queues data for delivery. A closed connection or a full queue
// drops the payload; fan-out is best effort.
func (c *Conn) Send(data []byte) error {
	if !c.open.Load() {
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- data:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

func (c *Conn) Close() error {
	c.open.Store(false)
	return c.ws.Close()
}

func (c *Conn) Start() {
	c.open.Store(true)
	metrics.OpenConnections.Inc()
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.open.Store(false)
		c.registry.Release(c)
		c.ws.Close()
		metrics.OpenConnections.Dec()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
