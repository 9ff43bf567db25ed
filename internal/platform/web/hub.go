package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/domain"
	"github.com/dontdude/codebox/internal/queue"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one WebSocket connection following one request.
type client struct {
	conn *websocket.Conn

	// gorilla connections allow a single concurrent writer.
	mu sync.Mutex
}

func (c *client) send(ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

// Hub forwards lifecycle events to the WebSocket clients following each request.
type Hub struct {
	queue Submitter
	log   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

func NewHub(q Submitter, logger zerolog.Logger) *Hub {
	return &Hub{
		queue:   q,
		log:     logger.With().Str("component", "hub").Logger(),
		clients: make(map[string]map[*client]struct{}),
	}
}

// Start subscribes to broker and forwards events in the background until ctx is done
// or the subscription ends.
func (h *Hub) Start(ctx context.Context, broker domain.EventBroker) error {
	events, err := broker.Subscribe(ctx)
	if err != nil {
		return err
	}

	h.log.Info().Msg("event broadcaster started")
	go func() {
		for ev := range events {
			h.broadcast(ev)
		}
		h.log.Info().Msg("event broadcaster stopped")
	}()
	return nil
}

func (h *Hub) broadcast(ev domain.Event) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[ev.RequestID]))
	for c := range h.clients[ev.RequestID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(ev); err != nil {
			h.log.Warn().Err(err).Str("request", ev.RequestID).Msg("failed to write to websocket")
			c.conn.Close()
		}
	}
}

func (h *Hub) register(id string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[id] == nil {
		h.clients[id] = make(map[*client]struct{})
	}
	h.clients[id][c] = struct{}{}
}

func (h *Hub) unregister(id string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[id], c)
	if len(h.clients[id]) == 0 {
		delete(h.clients, id)
	}
}

// ServeWS upgrades the connection and streams the events of the request named by
// the id query parameter, starting with its current snapshot.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if _, err := h.queue.Get(id); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn}

	// Register before taking the snapshot so no transition falls in between.
	h.register(id, c)
	defer func() {
		h.unregister(id, c)
		conn.Close()
		h.log.Debug().Str("request", id).Msg("websocket client disconnected")
	}()
	h.log.Debug().Str("request", id).Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")

	if req, err := h.queue.Get(id); err == nil {
		if err := c.send(domain.Event{
			RequestID: req.ID,
			Status:    req.Status,
			Result:    req.Result,
			Timestamp: req.UpdatedAt,
		}); err != nil {
			return
		}
	}

	// Keep the connection until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
