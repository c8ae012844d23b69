// Package diagnostics exposes a read-only telemetry feed over a
// websocket: dropped-frame counters, the requested frame rate, and
// refinement/session-closed events broadcast to any connected client.
package diagnostics

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// EventType discriminates the envelope's payload.
type EventType string

const (
	// EventFrameRateChanged reports a new requestedFrameRate.
	EventFrameRateChanged EventType = "frame_rate_changed"
	// EventDropCounters reports the pairer/worker drop counters.
	EventDropCounters EventType = "drop_counters"
	// EventRefinementEmitted reports a refinement-frame emission.
	EventRefinementEmitted EventType = "refinement_emitted"
	// EventSessionClosed reports session teardown, with its reason.
	EventSessionClosed EventType = "session_closed"
)

// Event is the envelope broadcast to every connected diagnostics client.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DropCounters is the EventDropCounters payload.
type DropCounters struct {
	SessionID       string `json:"sessionId"`
	DroppedOverflow int64  `json:"droppedOverflow"`
	DroppedStale    int64  `json:"droppedStale"`
}

// FrameRateChanged is the EventFrameRateChanged payload.
type FrameRateChanged struct {
	SessionID string `json:"sessionId"`
	Fps       int    `json:"fps"`
}

type feedClient struct {
	conn   *websocket.Conn
	id     string
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// Feed is a broadcast hub: every Publish call fans the event out to
// every currently connected client, dropping it for clients whose send
// buffer is full rather than blocking the publisher.
type Feed struct {
	log *zap.SugaredLogger

	mu      sync.Mutex
	clients map[string]*feedClient
}

// NewFeed creates an empty Feed.
func NewFeed(log *zap.SugaredLogger) *Feed {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Feed{log: log, clients: make(map[string]*feedClient)}
}

// HandleWebSocket upgrades r and registers the resulting connection as
// a feed subscriber until it disconnects.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warnw("diagnostics websocket upgrade failed", "err", err)
		return
	}

	c := &feedClient{
		conn: conn,
		id:   uuid.New().String()[:8],
		send: make(chan []byte, 32),
	}

	f.mu.Lock()
	f.clients[c.id] = c
	f.mu.Unlock()

	f.log.Debugw("diagnostics client connected", "client", c.id)

	go f.writePump(c)
	f.readPump(c)
}

func (f *Feed) readPump(c *feedClient) {
	defer f.disconnect(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(c *feedClient) {
	for msg := range c.send {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (f *Feed) disconnect(c *feedClient) {
	f.mu.Lock()
	delete(f.clients, c.id)
	f.mu.Unlock()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
		c.conn.Close()
	}
	c.mu.Unlock()
}

// Publish broadcasts an event to every connected client. It never
// blocks: a client whose buffer is full is skipped for this event.
func (f *Feed) Publish(eventType EventType, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		f.log.Warnw("diagnostics event marshal failed", "err", err)
		return
	}
	envelope, err := json.Marshal(Event{Type: eventType, Payload: raw})
	if err != nil {
		f.log.Warnw("diagnostics envelope marshal failed", "err", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		select {
		case c.send <- envelope:
		default:
			f.log.Debugw("diagnostics client backpressured, dropping event", "client", c.id)
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (f *Feed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}
