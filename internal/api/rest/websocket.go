package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/grcworks/sod-analyzer/internal/service/analysis"
)

// ProgressHub fans analysis progress events out to subscribed WebSocket
// clients. It implements analysis.ProgressSink.
type ProgressHub struct {
	clients       map[uuid.UUID]*progressClient
	clientsMu     sync.RWMutex
	register      chan *progressClient
	unregister    chan *progressClient
	broadcast     chan *progressMessage
	subscriptions map[string]map[uuid.UUID]bool // topic -> client IDs
	subMu         sync.RWMutex
	logger        *slog.Logger
	upgrader      websocket.Upgrader
	done          chan struct{}
	once          sync.Once
}

type progressClient struct {
	id            uuid.UUID
	conn          *websocket.Conn
	send          chan []byte
	hub           *ProgressHub
	subscriptions map[string]bool
	subMu         sync.RWMutex
}

type progressMessage struct {
	Topic string
	Data  []byte
}

// clientCommand is what a connected client may send: subscribe to or
// unsubscribe from a run's progress stream.
type clientCommand struct {
	Action string `json:"action"`
	RunID  string `json:"run_id"`
}

// progressFrame is the wire shape of one progress update.
type progressFrame struct {
	Type  string                 `json:"type"`
	RunID string                 `json:"run_id"`
	Event analysis.ProgressEvent `json:"event"`
}

const (
	wsWriteTimeout   = 10 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsPingPeriod     = 54 * time.Second // must be less than wsPongTimeout
	wsMaxMessageSize = 4 * 1024
)

// NewProgressHub creates the hub and starts its event loop.
func NewProgressHub(logger *slog.Logger, checkOrigin func(r *http.Request) bool) *ProgressHub {
	if logger == nil {
		logger = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	hub := &ProgressHub{
		clients:       make(map[uuid.UUID]*progressClient),
		register:      make(chan *progressClient),
		unregister:    make(chan *progressClient),
		broadcast:     make(chan *progressMessage, 256),
		subscriptions: make(map[string]map[uuid.UUID]bool),
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		done: make(chan struct{}),
	}

	go hub.run()
	return hub
}

// Publish implements analysis.ProgressSink. Events for runs nobody watches
// are dropped.
func (h *ProgressHub) Publish(runID uuid.UUID, event analysis.ProgressEvent) {
	data, err := json.Marshal(progressFrame{
		Type:  "progress",
		RunID: runID.String(),
		Event: event,
	})
	if err != nil {
		h.logger.Error("failed to marshal progress event", "error", err)
		return
	}

	select {
	case h.broadcast <- &progressMessage{Topic: runTopic(runID.String()), Data: data}:
	case <-h.done:
	default:
		h.logger.Warn("progress broadcast buffer full, dropping event",
			"run_id", runID.String(),
			"stage", event.Stage,
		)
	}
}

// HandleWebSocket upgrades the connection and serves it until either side
// closes. An optional run_id query parameter subscribes immediately.
func (h *ProgressHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &progressClient{
		id:            uuid.New(),
		conn:          conn,
		send:          make(chan []byte, 64),
		hub:           h,
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	if runID := r.URL.Query().Get("run_id"); runID != "" {
		h.subscribe(client, runTopic(runID))
	}

	go client.writePump()
	go client.readPump()
}

// Close stops the hub loop and disconnects all clients.
func (h *ProgressHub) Close() {
	h.once.Do(func() { close(h.done) })
}

func (h *ProgressHub) run() {
	for {
		select {
		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client.id] = client
			h.clientsMu.Unlock()
			h.logger.Debug("websocket client connected", "client_id", client.id.String())

		case client := <-h.unregister:
			h.removeClient(client)

		case message := <-h.broadcast:
			h.deliver(message)

		case <-h.done:
			h.clientsMu.Lock()
			for _, client := range h.clients {
				close(client.send)
				client.conn.Close()
			}
			h.clients = make(map[uuid.UUID]*progressClient)
			h.clientsMu.Unlock()
			return
		}
	}
}

func (h *ProgressHub) deliver(message *progressMessage) {
	h.subMu.RLock()
	ids := make([]uuid.UUID, 0, len(h.subscriptions[message.Topic]))
	for id := range h.subscriptions[message.Topic] {
		ids = append(ids, id)
	}
	h.subMu.RUnlock()

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, id := range ids {
		client, ok := h.clients[id]
		if !ok {
			continue
		}
		select {
		case client.send <- message.Data:
		default:
			// Slow client; skip rather than block the hub.
		}
	}
}

func (h *ProgressHub) removeClient(client *progressClient) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.clientsMu.Unlock()

	h.subMu.Lock()
	for topic := range h.subscriptions {
		delete(h.subscriptions[topic], client.id)
		if len(h.subscriptions[topic]) == 0 {
			delete(h.subscriptions, topic)
		}
	}
	h.subMu.Unlock()
}

func (h *ProgressHub) subscribe(client *progressClient, topic string) {
	h.subMu.Lock()
	if h.subscriptions[topic] == nil {
		h.subscriptions[topic] = make(map[uuid.UUID]bool)
	}
	h.subscriptions[topic][client.id] = true
	h.subMu.Unlock()

	client.subMu.Lock()
	client.subscriptions[topic] = true
	client.subMu.Unlock()
}

func (h *ProgressHub) unsubscribe(client *progressClient, topic string) {
	h.subMu.Lock()
	delete(h.subscriptions[topic], client.id)
	if len(h.subscriptions[topic]) == 0 {
		delete(h.subscriptions, topic)
	}
	h.subMu.Unlock()

	client.subMu.Lock()
	delete(client.subscriptions, topic)
	client.subMu.Unlock()
}

func runTopic(runID string) string {
	return "runs." + runID
}

func (c *progressClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.RunID == "" {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.hub.subscribe(c, runTopic(cmd.RunID))
		case "unsubscribe":
			c.hub.unsubscribe(c, runTopic(cmd.RunID))
		}
	}
}

func (c *progressClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
