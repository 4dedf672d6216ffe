package gateway

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan outbound
	hub  *Hub

	// Channels this client asked for; empty means everything.
	// Guarded by hub.mu.
	subs map[string]bool
}

// outbound is a queued frame. Broadcast frames carry their channel and
// publish time for delivery latency; control replies leave channel empty.
type outbound struct {
	data    []byte
	channel string
	at      time.Time
}

func (c *Client) observe(msg outbound) {
	if msg.channel != "" {
		c.hub.Latency.Observe(msg.channel, time.Since(msg.at))
	}
}

// controlMsg is a client → server message.
type controlMsg struct {
	Type     string   `json:"type"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
	Ping     int64    `json:"ping"`
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

func (c *Client) sendInitialState(lastTS string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		envelope, _ := json.Marshal(map[string]any{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- outbound{data: envelope}:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued frames into one message, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg.data)
			c.observe(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next.data)
				c.observe(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.hub.log.Info("ws client disconnected", "client", c.id)
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var m controlMsg
		if json.Unmarshal(msg, &m) != nil {
			continue
		}

		switch m.Type {
		case "subscribe":
			c.setSubs(m.Channels, true)
		case "unsubscribe":
			c.setSubs(m.Channels, false)
		default:
			if m.Ping > 0 {
				pong, _ := json.Marshal(map[string]any{
					"type":      "pong",
					"ping":      m.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.hub.mu.RLock()
				if c.hub.clients[c] {
					select {
					case c.send <- outbound{data: pong}:
					default:
					}
				}
				c.hub.mu.RUnlock()
			}
		}
	}
}

func (c *Client) setSubs(channels []string, on bool) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
}

// matchesChannel reports whether the client wants channel. Callers hold hub.mu.
func (c *Client) matchesChannel(channel string) bool {
	if len(c.subs) == 0 || channel == ChannelStats {
		return true
	}
	return c.subs[channel]
}
