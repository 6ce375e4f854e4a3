package sparkws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024
	sendQueueSize  = 32
)

// Conn adapts one gorilla websocket connection to the Handle interface. The
// outbound side is a bounded queue drained by a single write pump, so Send
// never blocks the coordinator on a slow client.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

var _ Handle = (*Conn)(nil)

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:     ws,
		send:   make(chan []byte, sendQueueSize),
		closed: make(chan struct{}),
	}
}

// Send enqueues a payload for the write pump. A full queue means the client
// is too slow to keep up; the message is dropped for this handle only.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return fmt.Errorf("handle closed")
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("send queue full")
	}
}

// Open reports whether the transport is still writable.
func (c *Conn) Open() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Handler upgrades HTTP requests to websocket connections and pumps inbound
// messages into the coordinator. One read loop and one write pump run per
// socket; socket close triggers the implicit-disconnect transition exactly
// once.
type Handler struct {
	Coordinator *Coordinator
	Logger      zerolog.Logger

	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler over the given coordinator.
func NewHandler(coordinator *Coordinator, logger zerolog.Logger) *Handler {
	return &Handler{
		Coordinator: coordinator,
		Logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The REST surface already allows all origins; the socket
			// identity is a client-supplied opaque user id either way.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(ws)
	go conn.writePump()

	h.Logger.Debug().Str("remote", ws.RemoteAddr().String()).Msg("websocket connected")
	h.readLoop(conn)
}

func (h *Handler) readLoop(conn *Conn) {
	// Detached from the request context: the socket outlives the upgrade
	// request, and close handling below is what tears it down.
	ctx := context.Background()

	defer func() {
		conn.close()
		h.Coordinator.HandleClose(ctx, conn)
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Logger.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		h.Coordinator.HandleMessage(ctx, conn, data)
	}
}
