package websocket

import (
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
)

const (
	// writeWait bounds how long a single outbound frame may block.
	writeWait = 10 * time.Second

	// maxInboundBytes caps inbound client messages. Subscription frames are
	// tiny; anything bigger is abuse.
	maxInboundBytes = 4096

	// sendBuffer is the per-client outbound queue. When it fills, events for
	// that client are dropped rather than blocking the hub.
	sendBuffer = 256
)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected viewer: a patient display, doctor dashboard or
// receptionist console. A fresh client has no topics; it subscribes after
// connecting.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
	conn   Conn
}

// enqueue hands data to the client's writer without ever blocking the hub; a
// slow client loses events instead of stalling everyone else.
func (c *Client) enqueue(data []byte) {
	select {
	case c.Send <- data:
	default:
	}
}

// gorillaConn adapts *gorillawebsocket.Conn to Conn and stamps the write
// deadline on every outbound frame.
type gorillaConn struct {
	ws *gorillawebsocket.Conn
}

func (g *gorillaConn) ReadMessage() (int, []byte, error) {
	return g.ws.ReadMessage()
}

func (g *gorillaConn) WriteMessage(messageType int, data []byte) error {
	_ = g.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return g.ws.WriteMessage(messageType, data)
}

func (g *gorillaConn) Close() error {
	return g.ws.Close()
}
