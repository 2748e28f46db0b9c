package sink

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"holderscope/internal/domain"
)

const writeTimeout = 10 * time.Second

// Event is the JSON envelope pushed over a WebSocket connection.
type Event struct {
	Type         string                 `json:"type"` // queued | started | report | failure
	TokenAddress string                 `json:"token_address,omitempty"`
	Kind         domain.AnalysisKind    `json:"kind,omitempty"`
	Position     int                    `json:"position,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	Refunded     int64                  `json:"refunded,omitempty"`
	Report       *domain.AnalysisReport `json:"report,omitempty"`
}

// Hub fans coordinator events out over WebSocket connections. A delivery
// channel maps to at most one live connection; events for channels without
// a connection are dropped and logged.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*hubConn
	logger *log.Logger
}

type hubConn struct {
	mu   sync.Mutex // serializes writes, required by gorilla/websocket
	conn *websocket.Conn
}

// NewHub creates an empty Hub. A nil logger defaults to stdout.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(os.Stdout, "[sink] ", log.LstdFlags)
	}
	return &Hub{
		conns:  make(map[string]*hubConn),
		logger: logger,
	}
}

var _ ResultSink = (*Hub)(nil)

// Register binds a connection to a delivery channel, replacing and closing
// any previous connection on that channel.
func (h *Hub) Register(channel string, conn *websocket.Conn) {
	h.mu.Lock()
	prev := h.conns[channel]
	h.conns[channel] = &hubConn{conn: conn}
	h.mu.Unlock()

	if prev != nil {
		prev.conn.Close()
	}
	h.logger.Printf("channel %s connected", channel)
}

// Unregister drops and closes the connection for a channel, if any.
func (h *Hub) Unregister(channel string) {
	h.mu.Lock()
	hc := h.conns[channel]
	delete(h.conns, channel)
	h.mu.Unlock()

	if hc != nil {
		hc.conn.Close()
	}
}

// Connected reports whether a channel currently has a live connection.
func (h *Hub) Connected(channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[channel]
	return ok
}

func (h *Hub) push(channel string, ev Event) {
	h.mu.Lock()
	hc := h.conns[channel]
	h.mu.Unlock()

	if hc == nil {
		h.logger.Printf("drop %s event for %s: no connection", ev.Type, channel)
		return
	}

	hc.mu.Lock()
	hc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := hc.conn.WriteJSON(ev)
	hc.mu.Unlock()

	if err != nil {
		h.logger.Printf("write %s event to %s: %v", ev.Type, channel, err)
		h.drop(channel, hc)
	}
}

// drop removes one specific connection from a channel. If the channel
// re-registered between the failed write and this call, the replacement
// stays untouched.
func (h *Hub) drop(channel string, hc *hubConn) {
	h.mu.Lock()
	if h.conns[channel] == hc {
		delete(h.conns, channel)
	}
	h.mu.Unlock()
	hc.conn.Close()
}

// Deliver pushes a finished report.
func (h *Hub) Deliver(channel string, report *domain.AnalysisReport) {
	h.push(channel, Event{
		Type:         "report",
		TokenAddress: report.TokenAddress,
		Kind:         report.Kind,
		Report:       report,
	})
}

// NotifyQueued pushes a queue-position notice.
func (h *Hub) NotifyQueued(channel, tokenAddress string, kind domain.AnalysisKind, position int) {
	h.push(channel, Event{
		Type:         "queued",
		TokenAddress: tokenAddress,
		Kind:         kind,
		Position:     position,
	})
}

// NotifyStarted pushes a task-start notice.
func (h *Hub) NotifyStarted(channel, tokenAddress string, kind domain.AnalysisKind) {
	h.push(channel, Event{
		Type:         "started",
		TokenAddress: tokenAddress,
		Kind:         kind,
	})
}

// NotifyFailure pushes a failure notice with the refunded amount.
func (h *Hub) NotifyFailure(channel, reason string, refunded int64) {
	h.push(channel, Event{
		Type:     "failure",
		Reason:   reason,
		Refunded: refunded,
	})
}
