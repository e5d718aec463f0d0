// Package realtime pushes bus events to websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// StreamedEvents are forwarded to clients
var StreamedEvents = []events.EventType{
	events.MarketDataSynced,
	events.SnapshotsCaptured,
	events.PortfolioChanged,
}

type client struct {
	userID string
	send   chan []byte
}

// Hub tracks connected clients and fans bus events out to them
type Hub struct {
	bus            *events.Bus
	originPatterns []string
	log            zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	unsubs  []func()
}

// NewHub creates a hub. originPatterns are passed to the websocket
// handshake; an empty list only accepts same-origin requests.
func NewHub(bus *events.Bus, originPatterns []string, log zerolog.Logger) *Hub {
	return &Hub{
		bus:            bus,
		originPatterns: originPatterns,
		log:            log.With().Str("component", "realtime_hub").Logger(),
		clients:        make(map[*client]struct{}),
	}
}

// Start subscribes the hub to the bus
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.unsubs) > 0 {
		return
	}
	for _, t := range StreamedEvents {
		h.unsubs = append(h.unsubs, h.bus.Subscribe(t, h.broadcast))
	}
}

// Stop unsubscribes from the bus and disconnects every client
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast runs on the publisher's goroutine, so sends never block
func (h *Hub) broadcast(ev *events.Event) {
	payload, err := json.Marshal(events.NewEventWithData(ev))
	if err != nil {
		h.log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("Failed to marshal event")
		return
	}

	owner := ""
	if changed, ok := ev.Data.(*events.PortfolioChangedData); ok {
		owner = changed.UserID
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if owner != "" && c.userID != owner {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.log.Warn().Str("user_id", c.userID).Str("event_type", string(ev.Type)).Msg("Client buffer full, dropping event")
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. It must run behind the authenticator.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket handshake failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	c := &client{userID: userID, send: make(chan []byte, sendBuffer)}
	h.register(c)
	defer h.unregister(c)

	h.log.Debug().Str("user_id", userID).Msg("Client connected")

	// Incoming messages are ignored; CloseRead cancels ctx when the peer closes.
	ctx := conn.CloseRead(r.Context())
	if err := h.writeLoop(ctx, conn, c); err != nil {
		h.log.Debug().Err(err).Str("user_id", userID).Msg("Client disconnected")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) error {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	hello, _ := json.Marshal(map[string]string{"type": "connected"})
	if err := write(ctx, conn, hello); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.send:
			if !ok {
				return nil
			}
			if err := write(ctx, conn, msg); err != nil {
				return err
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, msg)
}
