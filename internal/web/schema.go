package web

// MessageType constants for WebSocket text messages. Frames are sent as
// binary PNG messages without an envelope.
const (
	TypeHello = "hello"
	TypeStats = "stats"
)

// Message is the envelope for all WebSocket text messages
type Message struct {
	Type     string      `json:"type"`
	ViewerID string      `json:"viewerId,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// SizeInfo describes the canvas dimensions.
type SizeInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
