package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

const (
	sseKeepalive    = 15 * time.Second
	sseStaleTimeout = 5 * time.Minute
	sseClientBuffer = 16
)

// SSEEvent is one pipeline event streamed to a tenant.
type SSEEvent struct {
	Type     string      `json:"type"`
	TenantID uuid.UUID   `json:"-"`
	Data     interface{} `json:"data"`
}

// SSEClient is one connected stream, scoped to a tenant.
type SSEClient struct {
	ID       string
	TenantID uuid.UUID
	Channel  chan SSEEvent
	LastSeen time.Time
}

// SSEBroker delivers events to the streams of the event's tenant.
type SSEBroker struct {
	clients     map[string]*SSEClient
	clientsMu   sync.RWMutex
	register    chan *SSEClient
	unregister  chan *SSEClient
	broadcast   chan SSEEvent
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	sseLogLevel string // silent, warn, info
}

// NewSSEBroker creates a broker and starts its loop.
func NewSSEBroker(sseLogLevel string) *SSEBroker {
	broker := &SSEBroker{
		clients:     make(map[string]*SSEClient),
		register:    make(chan *SSEClient),
		unregister:  make(chan *SSEClient),
		broadcast:   make(chan SSEEvent, 100),
		done:        make(chan struct{}),
		sseLogLevel: sseLogLevel,
	}

	broker.wg.Add(1)
	go broker.run()
	return broker
}

func (b *SSEBroker) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case client := <-b.register:
			b.clientsMu.Lock()
			b.clients[client.ID] = client
			total := len(b.clients)
			b.clientsMu.Unlock()
			if b.sseLogLevel == "info" {
				logger.InfoEvent().
					Str("client_id", client.ID).
					Str("tenant_id", client.TenantID.String()).
					Int("total_clients", total).
					Msg("Event stream connected")
			}

		case client := <-b.unregister:
			b.clientsMu.Lock()
			if _, ok := b.clients[client.ID]; ok {
				delete(b.clients, client.ID)
				close(client.Channel)
			}
			total := len(b.clients)
			b.clientsMu.Unlock()
			if b.sseLogLevel == "warn" || b.sseLogLevel == "info" {
				logger.InfoEvent().
					Str("client_id", client.ID).
					Int("total_clients", total).
					Msg("Event stream disconnected")
			}

		case event := <-b.broadcast:
			b.clientsMu.Lock()
			for _, client := range b.clients {
				if client.TenantID != event.TenantID {
					continue
				}
				select {
				case client.Channel <- event:
					client.LastSeen = time.Now()
				default:
					logger.WarnEvent().
						Str("client_id", client.ID).
						Str("event_type", event.Type).
						Msg("Event stream slow, skipping event")
				}
			}
			b.clientsMu.Unlock()

		case <-ticker.C:
			b.cleanupStaleClients()

		case <-b.done:
			return
		}
	}
}

// cleanupStaleClients drops clients that have not accepted an event for a
// while. Their handlers return when the channel closes.
func (b *SSEBroker) cleanupStaleClients() {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()

	now := time.Now()
	for id, client := range b.clients {
		if now.Sub(client.LastSeen) > sseStaleTimeout {
			logger.WarnEvent().
				Str("client_id", id).
				Dur("inactive_duration", now.Sub(client.LastSeen)).
				Msg("Removing stale event stream")
			delete(b.clients, id)
			close(client.Channel)
		}
	}
}

// RegisterClient adds a stream for tenantID. It returns nil once the broker
// is closed.
func (b *SSEBroker) RegisterClient(tenantID uuid.UUID) *SSEClient {
	client := &SSEClient{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Channel:  make(chan SSEEvent, sseClientBuffer),
		LastSeen: time.Now(),
	}
	select {
	case b.register <- client:
		return client
	case <-b.done:
		return nil
	}
}

// UnregisterClient removes a stream.
func (b *SSEBroker) UnregisterClient(client *SSEClient) {
	select {
	case b.unregister <- client:
	case <-b.done:
	}
}

// Broadcast queues an event without blocking; it is dropped when the queue
// is full.
func (b *SSEBroker) Broadcast(event SSEEvent) {
	select {
	case b.broadcast <- event:
	default:
		logger.WarnEvent().
			Str("event_type", event.Type).
			Msg("Event broadcast queue full, dropping event")
	}
}

// GetClientCount returns the number of connected streams.
func (b *SSEBroker) GetClientCount() int {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients)
}

// Close stops the broker and ends every stream.
func (b *SSEBroker) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()

		b.clientsMu.Lock()
		for _, client := range b.clients {
			close(client.Channel)
		}
		b.clients = make(map[string]*SSEClient)
		b.clientsMu.Unlock()
	})
}

// HandleSSE streams the caller's tenant events.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	client := h.sseBroker.RegisterClient(tenantID)
	if client == nil {
		respondError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	defer h.sseBroker.UnregisterClient(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":%q}\n\n", client.ID)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case event, ok := <-client.Channel:
			if !ok {
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				logger.ErrorEvent().Err(err).Str("event_type", event.Type).Msg("Failed to marshal event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()

		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
