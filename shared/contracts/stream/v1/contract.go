// Package v1 defines the analytics stream wire contract.
//
// It is shared by the stream client, the mock backend and the smoke tool so the
// tagged-message shape stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PathPrefix is the websocket route prefix; the analytics session id is appended.
const PathPrefix = "/api/v1/ws/"

// Inbound types (server -> client).
const (
	TypeFrame = "frame"
	TypeStats = "stats"
	TypeEvent = "event"
	TypeFPS   = "fps"
	TypePong  = "pong"
)

// Outbound control types (client -> server).
const (
	TypePing         = "ping"
	TypeRequestStats = "request_stats"
	TypeRequestFrame = "request_frame"
)

// Message is the tagged record exchanged on the stream.
// FPS and Timestamp are only populated on frame messages.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	FPS       *float64        `json:"fps,omitempty"`
	Timestamp *float64        `json:"timestamp,omitempty"`
}

// Decode parses one wire message. Any structurally invalid input is an error.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, err
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the structural shape of a message. Unknown types are valid here;
// receivers decide what to do with them.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Type) == "" {
		return errors.New("missing field: type")
	}
	if m.Type == TypeFrame {
		var s string
		if len(m.Data) == 0 {
			return errors.New("frame: missing data")
		}
		if err := json.Unmarshal(m.Data, &s); err != nil {
			return fmt.Errorf("frame: data must be a base64 string: %w", err)
		}
	}
	return nil
}

// Control builds an outbound control message (ping, request_stats, request_frame).
func Control(typ string) Message {
	return Message{Type: typ}
}

// ---- Payloads ----

// Frame is the decoded body of a frame message.
type Frame struct {
	// Data is the base64-encoded JPEG as sent on the wire.
	Data      string  `json:"data"`
	FPS       float64 `json:"fps"`
	Timestamp float64 `json:"timestamp"`
}

// FrameOf extracts the frame payload from a frame message.
func FrameOf(m Message) (Frame, error) {
	if m.Type != TypeFrame {
		return Frame{}, fmt.Errorf("not a frame message: %q", m.Type)
	}
	var f Frame
	if err := json.Unmarshal(m.Data, &f.Data); err != nil {
		return Frame{}, err
	}
	if m.FPS != nil {
		f.FPS = *m.FPS
	}
	if m.Timestamp != nil {
		f.Timestamp = *m.Timestamp
	}
	return f, nil
}

// NewFrame builds a frame message.
func NewFrame(f Frame) Message {
	data, _ := json.Marshal(f.Data)
	fps := f.FPS
	ts := f.Timestamp
	return Message{Type: TypeFrame, Data: data, FPS: &fps, Timestamp: &ts}
}

// Statistics mirrors the backend's per-session detection statistics.
type Statistics struct {
	TotalDetections int                       `json:"total_detections"`
	ROIStats        map[string]map[string]int `json:"roi_stats"`
	FaceStats       map[string]int            `json:"face_stats"`
}

// DetectionEvent is the body of an event message.
type DetectionEvent struct {
	SessionID      string  `json:"session_id"`
	ROIID          string  `json:"roi_id"`
	Status         string  `json:"status"`
	PersonDetected bool    `json:"person_detected"`
	Confidence     float64 `json:"confidence"`
	BBox           []int   `json:"bbox,omitempty"`
	Timestamp      string  `json:"timestamp,omitempty"`
}

// WithData builds a message of typ whose data is the JSON encoding of v.
func WithData(typ string, v any) (Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Data: b}, nil
}
