package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Dispatch is the callback invoked once per inbound text frame.
type Dispatch func(raw []byte)

// OnClose is invoked once, when the connection's read loop exits.
type OnClose func()

// Connection is a single WebSocket connection owned by exactly one user;
// a UserID may own many Connections (multi-tab). Sends are serialized
// through a buffered channel consumed by one writer goroutine, so
// "per-connection sends preserve submission order" falls out of the
// single-consumer channel rather than a mutex around the socket write.
type Connection struct {
	ID     string
	UserID string

	conn   *websocket.Conn
	send   chan Frame
	logger *zap.Logger
}

// JWTValidate verifies token and returns the authenticated user ID.
type JWTValidate func(token string) (userID string, err error)

// ServeWS upgrades the request to a WebSocket connection, authenticating
// via the token query parameter first — on failure it responds 401/400 and
// never upgrades, per spec §6.
func ServeWS(fanout *Fanout, validate JWTValidate, newDispatcher func(userID string, conn *Connection) dispatcherLike, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userID, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		conn := &Connection{
			ID:     uuid.New().String(),
			UserID: userID,
			conn:   wsConn,
			send:   make(chan Frame, 256),
			logger: logger,
		}
		fanout.Add(userID, conn)

		dispatcher := newDispatcher(userID, conn)

		initial, _ := json.Marshal(map[string]string{"user_id": userID})
		conn.enqueueRaw(Frame{Type: "connected", Data: initial})

		go conn.writePump()
		conn.readPump(dispatcher)

		dispatcher.Close()
		fanout.Remove(userID, conn)
	}
}

// dispatcherLike is the subset of signaling.Dispatcher the connection loop
// needs; declared locally to avoid an import cycle between realtime and
// signaling (signaling imports realtime for Frame and declares its own
// Sender interface).
type dispatcherLike interface {
	Dispatch(raw []byte)
	Close()
}

func (c *Connection) readPump(dispatcher dispatcherLike) {
	defer func() {
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		dispatcher.Dispatch(raw)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			b, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue attempts a non-blocking send to the connection's write channel.
func (c *Connection) enqueue(frame Frame) error {
	select {
	case c.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Connection) enqueueRaw(frame Frame) {
	select {
	case c.send <- frame:
	default:
	}
}

var errSendBufferFull = &sendError{"connection send buffer full"}

type sendError struct{ msg string }

func (e *sendError) Error() string { return e.msg }
