package realtime

import "encoding/json"

// Frame types on the wire. Each WebSocket text message carries one Frame.
const (
	FrameConnect      = "connect"
	FrameConnectError = "connect_error"
	FrameEvent        = "event"
	FrameAck          = "ack"
	FrameDisconnect   = "disconnect"
)

// Frame is the JSON envelope exchanged with the realtime server.
// Client emits that expect an acknowledgment carry a non-zero ID, and the
// server answers with an ack frame bearing the same ID.
type Frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ackStatus is the common part of every ack payload.
type ackStatus struct {
	Success *bool           `json:"success"`
	Message json.RawMessage `json:"message"`
	Error   string          `json:"error"`
}

// connectError is the payload of a connect_error frame.
type connectError struct {
	Message string `json:"message"`
}

func encodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
