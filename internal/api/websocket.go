package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/logging"
)

// Message types on the event stream.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll matches every registry event type.
	WSChannelAll = "*"
)

const (
	outboxSize = 256

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// WSMessage is one JSON frame on the event stream, in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names registry event types ("device_discovered",
// "liveness_changed", ...) or WSChannelAll.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// inbound defers payload decoding until the type is known.
type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware and the ticket.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans registry events out to WebSocket subscribers.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub returns an empty hub. Zero ping and pong settings default to
// 30s and 10s.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Hub{cfg: cfg, logger: logger, subs: make(map[*subscriber]struct{})}
}

// Run disconnects every subscriber once ctx is done.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.close()
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	s.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast queues an event for every subscriber of channel. Slow
// subscribers whose outbox is full miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: timestamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "event_type", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.wants(channel) {
			s.offer(data)
		}
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// subscriber is one WebSocket connection. The read goroutine owns the
// channel set; the write goroutine owns all writes to conn.
type subscriber struct {
	hub  *Hub
	conn *websocket.Conn

	outbox chan []byte
	done   chan struct{}
	once   sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
}

// handleWebSocket upgrades to the event stream. With auth enabled the
// caller presents a single-use ticket from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		switch {
		case ticket == "":
			writeUnauthorized(w, "ticket query parameter is required")
			return
		case !s.tickets.redeem(ticket):
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r.Context()))
		return
	}

	sub := &subscriber{
		hub:      s.hub,
		conn:     conn,
		outbox:   make(chan []byte, outboxSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	s.hub.add(sub)

	go sub.writeLoop()
	go sub.readLoop()
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close() //nolint:errcheck // unblocks the read loop
	})
}

// offer queues data without blocking.
func (s *subscriber) offer(data []byte) {
	select {
	case <-s.done:
	case s.outbox <- data:
	default:
	}
}

func (s *subscriber) wants(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, all := s.channels[WSChannelAll]
	_, one := s.channels[channel]
	return all || one
}

func (s *subscriber) readLoop() {
	defer s.hub.remove(s)

	cfg := s.hub.cfg
	idle := cfg.PingInterval + cfg.PongTimeout
	extend := func(string) error { return s.conn.SetReadDeadline(time.Now().Add(idle)) }

	if cfg.MaxMessageSize > 0 {
		s.conn.SetReadLimit(cfg.MaxMessageSize)
	}
	extend("") //nolint:errcheck // a failed deadline surfaces on the next read
	s.conn.SetPongHandler(extend)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // as above
		s.handle(data)
	}
}

func (s *subscriber) writeLoop() {
	cfg := s.hub.cfg
	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()

	write := func(kind int, data []byte) error {
		if err := s.conn.SetWriteDeadline(time.Now().Add(cfg.PongTimeout)); err != nil {
			return err
		}
		return s.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-s.done:
			return
		case data := <-s.outbox:
			if write(websocket.TextMessage, data) != nil {
				s.close()
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				s.close()
				return
			}
		}
	}
}

func (s *subscriber) handle(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.fail("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		s.changeChannels(msg)
	case WSTypePing:
		s.reply(msg.ID, WSTypePong, nil)
	default:
		s.fail(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (s *subscriber) changeChannels(msg inbound) {
	var p WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || len(p.Channels) == 0 {
		s.fail(msg.ID, msg.Type+" needs a non-empty channels list")
		return
	}

	add := msg.Type == WSTypeSubscribe
	s.mu.Lock()
	for _, ch := range p.Channels {
		if add {
			s.channels[ch] = struct{}{}
		} else {
			delete(s.channels, ch)
		}
	}
	s.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
	}
	s.reply(msg.ID, WSTypeResponse, map[string][]string{key: p.Channels})
}

func (s *subscriber) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{Type: kind, ID: id, Timestamp: timestamp(), Payload: payload})
	if err != nil {
		return
	}
	s.offer(data)
}

func (s *subscriber) fail(id, message string) {
	s.reply(id, WSTypeError, map[string]string{"message": message})
}
