package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/speculo/speculo/internal/avatar"
)

// hubClient is one attached display or control panel. Both real WebSocket
// connections and test mocks satisfy it.
type hubClient interface {
	getSendChannel() chan []byte
	close()
}

// WebSocketHub is the event bus between the mirror displays, the control
// panel, and the avatar state machine. Incoming messages are parsed as
// avatar broadcast messages: ones that map to a machine event drive the
// state machine, and every valid message is relayed to the other
// connected displays.
type WebSocketHub struct {
	clients    map[hubClient]bool
	broadcast  chan interface{}
	register   chan hubClient
	unregister chan hubClient
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc

	machine *avatar.Machine
}

// NewWebSocketHub creates a new WebSocket hub. machine may be nil, in
// which case incoming messages are relayed but drive no state changes.
func NewWebSocketHub(machine *avatar.Machine) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		clients:    make(map[hubClient]bool),
		broadcast:  make(chan interface{}, 256),
		register:   make(chan hubClient),
		unregister: make(chan hubClient),
		ctx:        ctx,
		cancel:     cancel,
		machine:    machine,
	}
}

// Run is the hub's event loop. It owns the client set; register,
// unregister and broadcast all funnel through here.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("websocket: client connected (total: %d)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("websocket: client disconnected (total: %d)", count)

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-h.ctx.Done():
			log.Println("websocket: hub stopping")
			return
		}
	}
}

// fanOut delivers one message to every client. Clients whose send buffer
// is full are assumed dead and dropped.
func (h *WebSocketHub) fanOut(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("websocket: failed to marshal message: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.getSendChannel() <- data:
		default:
			close(client.getSendChannel())
			delete(h.clients, client)
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *WebSocketHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.getSendChannel())
		client.close()
	}
	h.clients = make(map[hubClient]bool)
	h.mu.Unlock()
}

// Broadcast queues a message for delivery to all connected clients. When
// the queue is full the message is dropped rather than blocking the
// caller; displays resync on the next state change.
func (h *WebSocketHub) Broadcast(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		log.Println("websocket: broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub. After Stop it returns without
// registering, so late upgrade handshakes don't hang.
func (h *WebSocketHub) Register(client hubClient) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub. After Stop the client set is
// already drained, so this returns immediately and the pump goroutines
// calling it from their deferred cleanup can exit.
func (h *WebSocketHub) Unregister(client hubClient) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// HandleIncoming processes one message received from a client: dispatch
// the mapped machine event if any, then relay the message to the other
// displays. Unparsable messages are dropped with a log line.
func (h *WebSocketHub) HandleIncoming(data []byte) {
	var msg avatar.BroadcastMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("websocket: dropping unparsable message: %v", err)
		return
	}
	if msg.Type == "" {
		return
	}

	if h.machine != nil {
		if event, ok := avatar.MapBroadcastToEvent(msg); ok {
			h.machine.Dispatch(event)
		}
	}

	h.Broadcast(msg)
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Mirror displays connect from the local network.
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// wsClient is a live WebSocket connection attached to the hub.
type wsClient struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) getSendChannel() chan []byte { return c.send }

func (c *wsClient) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// writePump drains the send channel into the connection.
func (c *wsClient) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()

		if err != nil {
			log.Printf("websocket: write failed: %v", err)
			return
		}
	}
}

// readPump feeds incoming messages to the hub until the connection dies.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			return
		}
		c.hub.HandleIncoming(data)
	}
}

// MockClient stands in for a connection in tests.
type MockClient struct {
	SendChan chan []byte
}

func (m *MockClient) getSendChannel() chan []byte { return m.SendChan }

func (m *MockClient) close() {}
