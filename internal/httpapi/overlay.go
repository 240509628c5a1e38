package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// OverlayEvent is one message pushed to browser-source overlays.
type OverlayEvent struct {
	Event string    `json:"event"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

// Hub fans overlay events out to SSE and websocket clients. Slow clients
// lose events rather than stall the publisher.
type Hub struct {
	metrics *Metrics

	mu      sync.Mutex
	clients map[chan OverlayEvent]string
	closed  bool
}

func NewHub(metrics *Metrics) *Hub {
	return &Hub{metrics: metrics, clients: make(map[chan OverlayEvent]string)}
}

// Publish sends event to every connected overlay.
func (h *Hub) Publish(event string, payload any) {
	msg := OverlayEvent{Event: event, Data: payload, At: time.Now().UTC()}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch, transport := range h.clients {
		select {
		case ch <- msg:
		default:
			h.metrics.IncBroadcastDrops(transport)
		}
	}
}

// Clients returns the number of connected overlays.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) subscribe(transport string) (chan OverlayEvent, bool) {
	ch := make(chan OverlayEvent, 64)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.clients[ch] = transport
	h.metrics.IncOverlayClients(transport, 1)
	return ch, true
}

func (h *Hub) unsubscribe(ch chan OverlayEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if transport, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		h.metrics.IncOverlayClients(transport, -1)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch, transport := range h.clients {
		close(ch)
		h.metrics.IncOverlayClients(transport, -1)
	}
	h.clients = map[chan OverlayEvent]string{}
}

func (h *Hub) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	ch, ok := h.subscribe("sse")
	if !ok {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)
			flusher.Flush()
		}
	}
}

func (h *Hub) handleWS(origins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(baseWriter(w), r, &websocket.AcceptOptions{
			OriginPatterns: origins,
		})
		if err != nil {
			log.Printf("overlay: ws accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")

		ch, ok := h.subscribe("ws")
		if !ok {
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		}
		defer h.unsubscribe(ch)

		// Overlays never send; CloseRead notices when they go away.
		ctx := conn.CloseRead(r.Context())
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "shutting down")
					return
				}
				writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := wsjson.Write(writeCtx, conn, msg)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}
}
