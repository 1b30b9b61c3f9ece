// Package protocol defines the JSON messages exchanged with control
// clients over the websocket and HTTP surfaces.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope for every frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message types sent by clients.
const (
	TypeHome          = "home"
	TypeJog           = "jog"
	TypeGoto          = "goto"
	TypeGotoForward   = "goto_forward"
	TypeSetForward    = "set_forward"
	TypeFire          = "fire"
	TypeTestFire      = "test_fire"
	TypeStop          = "stop"
	TypeEstopReset    = "estop_reset"
	TypeSetTracking   = "set_tracking"
	TypeSetAutofire   = "set_autofire"
	TypeSetSentry     = "set_sentry"
	TypeSentryStep    = "sentry_step"
	TypeSentryFireAt  = "sentry_fire_at"
	TypeSetSpeeds     = "set_speeds"
	TypeStatusRequest = "status_request"
)

// Message types sent by the server.
const (
	TypeResult = "result"
	TypeStatus = "status"
	TypeError  = "error"
)

// JogPayload moves one axis by a relative number of steps.
type JogPayload struct {
	Axis  string `json:"axis"`
	Dir   int    `json:"dir"` // +1 or -1
	Steps int64  `json:"steps,omitempty"`
}

// GotoPayload moves to an absolute step-space pose.
type GotoPayload struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// TogglePayload switches a boolean gate.
type TogglePayload struct {
	On bool `json:"on"`
}

// SentryFirePayload carries a detector pixel offset from the aim
// point.
type SentryFirePayload struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// SpeedsPayload sets the per-axis speed scales.
type SpeedsPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ResultPayload acknowledges a command, reporting the pose it ended
// at.
type ResultPayload struct {
	Command string `json:"command"`
	X       int64  `json:"x"`
	Y       int64  `json:"y"`
}

// ErrorPayload reports a rejected or failed command.
type ErrorPayload struct {
	Command string `json:"command,omitempty"`
	Error   string `json:"error"`
}

// NewMessage wraps a payload in an envelope.
func NewMessage(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: data}, nil
}

// ParsePayload decodes the message payload into out.
func (m Message) ParsePayload(out any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("%s: bad payload: %w", m.Type, err)
	}
	return nil
}
