// Package protocol defines the JSON messages the bridge accepts on its
// messaging transport. Every message carries a "type" discriminator and is
// decoded in two passes: first into an Envelope, then into the concrete
// struct for that type.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/whisper/bridge/internal/route"
	"github.com/whisper/bridge/internal/sender"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Inbound message types.
const (
	TypeEvent    = "event"
	TypeSend     = "send"
	TypeFeedback = "feedback"
)

// Reply message types.
const (
	TypeDecision = "decision"
	TypeQueued   = "queued"
	TypeError    = "error"
)

// Error codes carried by ErrorMsg.
const (
	CodeBadRequest = "bad_request"
	CodeQueueFull  = "queue_full"
	CodeInternal   = "internal"
)

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Inbound message structs
// ---------------------------------------------------------------------------

// EventMsg is a chat event delivered by a platform adapter.
type EventMsg struct {
	Type        string   `json:"type"`
	SessionID   string   `json:"session_id"`
	Text        string   `json:"text"`
	GroupID     string   `json:"group_id,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	MessageType string   `json:"message_type,omitempty"`
	Ts          int64    `json:"ts,omitempty"` // unix milliseconds
	Context     []string `json:"context,omitempty"`
}

// Time returns the event timestamp, or the zero time when Ts is unset.
func (m EventMsg) Time() time.Time {
	if m.Ts == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Ts)
}

// Event converts the message into a routing event. A missing timestamp
// becomes now.
func (m EventMsg) Event() route.Event {
	ts := m.Time()
	if ts.IsZero() {
		ts = time.Now()
	}
	return route.Event{
		SessionID:   m.SessionID,
		Text:        m.Text,
		GroupID:     m.GroupID,
		UserID:      m.UserID,
		MessageType: m.MessageType,
		Timestamp:   ts,
		Context:     m.Context,
	}
}

// SendMsg asks the bridge to deliver text directly, bypassing routing.
type SendMsg struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	SessionID   string `json:"session_id"`
	GroupID     string `json:"group_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	MessageType string `json:"message_type,omitempty"`
}

// Meta returns the send metadata carried by the message.
func (m SendMsg) Meta() sender.Meta {
	return sender.Meta{
		SessionID:   m.SessionID,
		GroupID:     m.GroupID,
		UserID:      m.UserID,
		MessageType: m.MessageType,
	}
}

// FeedbackMsg records a human correction of a past routing decision.
type FeedbackMsg struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	Text         string `json:"text"`
	PredRoute    string `json:"pred_route"`
	CorrectRoute string `json:"correct_route"`
	Note         string `json:"note,omitempty"`
}

// ---------------------------------------------------------------------------
// Reply message structs
// ---------------------------------------------------------------------------

// ErrorMsg is returned when a message cannot be processed.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseInboundMessage parses raw bytes into a typed inbound message. It
// returns the message type string, the decoded struct, and any error
// encountered during parsing. Unknown types are an error.
func ParseInboundMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeEvent:
		var m EventMsg
		err = json.Unmarshal(env.Raw, &m)
		if err == nil && m.SessionID == "" {
			err = fmt.Errorf("missing session_id")
		}
		msg = m
	case TypeSend:
		var m SendMsg
		err = json.Unmarshal(env.Raw, &m)
		if err == nil && m.Text == "" {
			err = fmt.Errorf("missing text")
		}
		msg = m
	case TypeFeedback:
		var m FeedbackMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewMessage creates a JSON-encoded reply. The msgType is injected into the
// payload under the "type" key.
func NewMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal message: %w", err)
	}
	return out, nil
}
