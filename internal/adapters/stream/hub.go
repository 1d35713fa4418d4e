package stream

// hub.go — feed de eventos de mercado por websocket.
//
// El engine publica cada cambio (trade, liquidez, propuesta, resolución) y
// el hub lo reenvía a los clientes suscritos. Cada cliente elige qué recibir:
//   - "*"               todo (por defecto)
//   - "market:{id}"     un mercado
//   - "category:{name}" una categoría
// Un cliente lento pierde mensajes en vez de frenar al engine.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	broadcastSize  = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// SubscribeMsg es lo que un cliente envía para cambiar sus topics.
type SubscribeMsg struct {
	Action string   `json:"action"` // "subscribe" | "unsubscribe"
	Topics []string `json:"topics"`
}

type message struct {
	topics []string
	data   []byte
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// Hub reparte eventos a los clientes conectados. Implementa ports.EventPublisher.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     *slog.Logger

	mu sync.RWMutex
}

// NewHub crea un hub sin clientes. Run debe estar corriendo para aceptar conexiones.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan message, broadcastSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Publish encola el evento para todos los suscriptores. Nunca bloquea.
func (h *Hub) Publish(_ context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stream.Publish: marshal: %w", err)
	}
	msg := message{
		topics: []string{"*", "market:" + ev.MarketID, "category:" + strings.ToLower(ev.Category)},
		data:   data,
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return nil
	default:
		h.logger.Warn("stream: broadcast buffer full, dropping event", "market", ev.MarketID, "type", ev.Type)
		return nil
	}
}

// Run atiende registros y difusión hasta que ctx se cancela.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream: client connected", "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream: client disconnected", "clients", n)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.topics) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("stream: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Clients devuelve cuántas conexiones hay abiertas.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP hace el upgrade a websocket. Los topics iniciales se pueden pasar
// como ?topics=market:abc,category:crypto.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream: upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	if raw := r.URL.Query().Get("topics"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = normalizeTopic(t); t != "" {
				c.subs[t] = true
			}
		}
	}
	if len(c.subs) == 0 {
		c.subs["*"] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func normalizeTopic(t string) string {
	t = strings.TrimSpace(t)
	if rest, ok := strings.CutPrefix(t, "category:"); ok {
		return "category:" + strings.ToLower(rest)
	}
	return t
}

func (c *client) wants(topics []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range topics {
		if c.subs[t] {
			return true
		}
	}
	return false
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("stream: unexpected close", "error", err)
			}
			return
		}
		var msg SubscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.ack(c.apply(msg))
	}
}

// Ack confirma al cliente los topics activos tras un cambio.
type Ack struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// ack encola la confirmación solo si el cliente sigue registrado: el hub
// cierra send bajo el lock de escritura.
func (c *client) ack(topics []string) {
	data, err := json.Marshal(Ack{Type: "subscribed", Topics: topics})
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) apply(msg SubscribeMsg) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range msg.Topics {
		t = normalizeTopic(t)
		switch msg.Action {
		case "subscribe":
			c.subs[t] = true
		case "unsubscribe":
			delete(c.subs, t)
		}
	}
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
