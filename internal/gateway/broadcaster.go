package gateway

import (
	"strconv"
	"time"
)

// Broadcaster constructs envelope JSON and sends it to subscribed clients.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast wraps data in an envelope, records it for replay and queues it
// on every subscribed client. Slow clients lose frames rather than block
// the publisher.
func (b *Broadcaster) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()
	h := b.hub

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	h.seq++
	seq := h.seq
	rb, exists := h.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(h.replaySize)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	buf := appendEnvelope(make([]byte, 0, len(channel)+len(data)+160), channel, data, now, seq, channelSeq)
	rb.Push(channelSeq, buf)

	if h.metrics != nil {
		h.metrics.GatewayBroadcasts.WithLabelValues(channel).Inc()
	}

	dropped := 0
	h.mu.RLock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- outbound{data: buf, channel: channel, at: now}:
		default:
			dropped++
		}
	}
	h.mu.RUnlock()
	if dropped > 0 && h.metrics != nil {
		h.metrics.GatewayDroppedFrames.Add(float64(dropped))
	}
}

// appendEnvelope hand-crafts {"channel":..,"data":..,"ts":..,"seq":..,"channel_seq":..}.
func appendEnvelope(buf []byte, channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}
