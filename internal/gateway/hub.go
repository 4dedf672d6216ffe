// Package gateway serves the chart over HTTP and pushes terminal updates to
// WebSocket clients. Every published message is wrapped in an envelope
// carrying a global seq and a per-channel seq; recent envelopes are kept
// per channel so clients can backfill gaps.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chartterm/internal/metrics"
)

// ChannelStats carries periodic gateway statistics.
const ChannelStats = "stats"

// DefaultReplaySize is the number of envelopes kept per channel.
const DefaultReplaySize = 500

// Hub manages WebSocket clients and fans out published updates.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer
	replaySize int

	// Publish-to-write latency of delivered frames
	Latency *DeliveryLatency

	Broadcaster *Broadcaster
	metrics     *metrics.Metrics
	log         *slog.Logger
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64 // per-channel seq for gap detection
}

// NewHub creates a hub. m may be nil.
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		replaySize:  DefaultReplaySize,
		Latency:     NewDeliveryLatency(DefaultLatencyWindow, m),
		metrics:     m,
		log:         logger.With("component", "gateway"),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Publish implements the terminal's publisher.
func (h *Hub) Publish(channel string, data []byte) {
	h.Broadcaster.Broadcast(channel, data)
}

// HandleWSRequest registers an upgraded connection and starts its pumps.
// Clients that pass lastTS only receive latest entries newer than it.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) *Client {
	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan outbound, 256),
		hub:  h,
		subs: make(map[string]bool),
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.GatewayClients.Set(float64(count))
	}

	h.log.Info("ws client connected", "client", client.id, "clients", count)

	client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
	return client
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.GatewayClients.Set(float64(count))
	}
}

// GetLatestAll returns the newest payload of every channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// ReplayOldest returns the oldest channel seq still available for replay.
func (h *Hub) ReplayOldest(channel string) (int64, bool) {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return 0, false
	}
	return rb.Oldest()
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartStatsBroadcast publishes process and delivery stats every interval
// until ctx is cancelled.
func (h *Hub) StartStatsBroadcast(ctx context.Context, start time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := CollectMetrics(start)
			m.Clients = h.ClientCount()
			m.Delivery = h.Latency.Summary("")
			m.DeliveryByChannel = h.Latency.Channels()
			data, err := json.Marshal(m)
			if err != nil {
				continue
			}
			h.Publish(ChannelStats, data)
		}
	}
}
