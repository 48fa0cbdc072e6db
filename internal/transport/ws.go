// Package transport implements the concrete CLASP transports: WebSocket
// (gorilla/websocket behind an echo route) and QUIC/WebTransport
// (quic-go, quic-go/webtransport-go). Each adapter only ever has to satisfy
// router.Receiver and session.Sender; the router core knows nothing about
// any of them (spec §4.4, §5).
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/rustyguts/clasp/internal/router"
	"github.com/rustyguts/clasp/internal/session"
)

// WriteTimeout bounds one WebSocket frame write, matching the teacher's own
// constant in server/internal/ws/handler.go.
const WriteTimeout = 5 * time.Second

// ReadLimit matches spec §2's max frame size headroom; larger client
// messages are rejected by the underlying websocket library before ever
// reaching the codec.
const ReadLimit = 1 << 20

// wsConn adapts a *websocket.Conn to router.Receiver + session.Sender,
// carrying CLASP frames as opaque binary WebSocket messages.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WSHandler owns the WebSocket transport: it upgrades HTTP requests and
// hands the resulting connection to the router core, mirroring the
// teacher's own Handler/Register/HandleWebSocket shape.
type WSHandler struct {
	router   *router.Router
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewWSHandler creates a WebSocket handler bound to r.
func NewWSHandler(r *router.Router, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		router: r,
		log:    log,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{"clasp"},
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Register binds the WebSocket route on an Echo router.
func (h *WSHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *WSHandler) HandleWebSocket(c echo.Context) error {
	remoteAddr := c.RealIP()
	h.log.Debug("ws upgrade request", "remote", remoteAddr)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "remote", remoteAddr, "err", err)
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	conn.SetReadLimit(ReadLimit)

	wc := &wsConn{conn: conn}
	h.router.HandleConnection(c.Request().Context(), wc, wc, remoteAddr)
	return nil
}

var _ session.Sender = (*wsConn)(nil)
var _ router.Receiver = (*wsConn)(nil)
