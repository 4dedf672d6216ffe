package gateway

import (
	"encoding/json"

	"chartterm/internal/model"
)

// SessionRequest is the body of POST /api/v1/session.
type SessionRequest struct {
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Market   model.Market `json:"market"`
}

// IngestResponse is the body of POST /api/v1/ingest. Result is one of
// updated, appended, malformed, out_of_order or stale.
type IngestResponse struct {
	Result string `json:"result"`
}

// RangeRequest is the body of POST /api/v1/panes/{pane}/range.
type RangeRequest struct {
	From *float64 `json:"from"`
	To   *float64 `json:"to"`
}

// PanRequest is the body of POST /api/v1/panes/{pane}/pan.
type PanRequest struct {
	Delta float64 `json:"delta"`
}

// ZoomRequest is the body of POST /api/v1/panes/{pane}/zoom.
type ZoomRequest struct {
	Factor  float64 `json:"factor"`
	AnchorX float64 `json:"anchor_x"`
}

// ResizeRequest is the body of POST /api/v1/resize.
type ResizeRequest struct {
	Width        float64 `json:"width"`
	MainHeight   float64 `json:"main_height"`
	VolumeHeight float64 `json:"volume_height"`
	PixelRatio   float64 `json:"pixel_ratio"`
}

// MissedResponse is the body of GET /api/v1/missed.
type MissedResponse struct {
	Channel    string            `json:"channel"`
	From       int64             `json:"from"`
	To         int64             `json:"to"`
	Oldest     int64             `json:"oldest"` // 0 when nothing is retained
	CurrentSeq int64             `json:"current_seq"`
	Envelopes  []json.RawMessage `json:"envelopes"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}
