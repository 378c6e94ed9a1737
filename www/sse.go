package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"tiximax/engine"
)

const keepaliveInterval = 30 * time.Second

// SSEEvent is the typed envelope sent to SSE clients.
type SSEEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type sseClient struct {
	events chan SSEEvent
}

// EventHub fans engine events out to browser SSE connections.
type EventHub struct {
	log *zap.Logger

	mu        sync.RWMutex
	clients   map[*sseClient]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewEventHub creates a new EventHub.
func NewEventHub(log *zap.Logger) *EventHub {
	return &EventHub{
		log:       log,
		clients:   make(map[*sseClient]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the event fan-out loop.
func (h *EventHub) Start() {
	go h.run()
}

// Stop shuts down the event hub and waits for the fan-out loop.
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
		<-h.done
	})
}

// Broadcast queues an event for every connected client. Events are dropped
// when the queue is full.
func (h *EventHub) Broadcast(evt SSEEvent) {
	select {
	case h.broadcast <- evt:
	default:
		h.log.Debug("sse broadcast dropped", zap.String("type", evt.Type))
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) register(c *sseClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	close(c.events)
	h.mu.Unlock()
}

func (h *EventHub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.events <- evt:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleSSE is the HTTP handler for SSE connections.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &sseClient{events: make(chan SSEEvent, 64)}
	h.register(client)
	defer h.unregister(client)

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt, ok := <-client.events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt.Data)
			if err != nil {
				h.log.Warn("sse encode", zap.String("type", evt.Type), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// SetupEngineListeners wires engine events to SSE broadcasts and returns a
// function that unwires them.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) func() {
	id := eng.Events.Subscribe(func(evt engine.Event) {
		switch evt.Type {
		case engine.EventChannelState:
			h.Broadcast(SSEEvent{Type: "channel-state", Data: evt.Payload})
		case engine.EventFeedMessage:
			h.Broadcast(SSEEvent{Type: "feed-message", Data: evt.Payload})
		case engine.EventBatchGenerated:
			h.Broadcast(SSEEvent{Type: "labels-batch", Data: evt.Payload})
		case engine.EventScopeChanged:
			p := evt.Payload.(engine.ScopeChangedEvent)
			h.Broadcast(SSEEvent{Type: "labels-scope", Data: map[string]string{
				"from": p.From.String(), "to": p.To.String(),
			}})
		case engine.EventLabelsPrinted:
			h.Broadcast(SSEEvent{Type: "labels-printed", Data: evt.Payload})
		case engine.EventOutboxQueued:
			h.Broadcast(SSEEvent{Type: "outbox-queued", Data: evt.Payload})
		}
	})
	return func() { eng.Events.Unsubscribe(id) }
}
