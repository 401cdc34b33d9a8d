package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// WebSocketHandler upgrades HTTP connections and runs the per-client pumps.
type WebSocketHandler struct {
	hub *Hub
}

// NewWebSocketHandler creates a handler bound to the given hub.
func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// RegisterRoutes registers the WebSocket endpoint on the given group.
func (wsh *WebSocketHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect upgrades the connection, registers the client with no
// topics, and starts the read and write pumps.
func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	ws.SetReadLimit(maxInboundBytes)

	client := &Client{
		ID:     uuid.New().String(),
		Topics: []string{},
		Send:   make(chan []byte, sendBuffer),
		conn:   &gorillaConn{ws: ws},
	}

	wsh.hub.Register(client)

	go wsh.writePump(client)
	go wsh.readPump(client)

	return nil
}

// readPump consumes inbound frames until the connection drops, then
// unregisters the client. Malformed frames are skipped.
func (wsh *WebSocketHandler) readPump(client *Client) {
	defer func() {
		wsh.hub.Unregister(client)
		client.conn.Close()
	}()

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

// writePump drains the send queue onto the wire until the channel closes or
// a write fails.
func (wsh *WebSocketHandler) writePump(client *Client) {
	defer client.conn.Close()

	for data := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
			return
		}
	}
}
