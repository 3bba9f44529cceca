// Package sender delivers outbound messages to a chat platform. The variant
// is chosen once at startup from configuration; the send queue only sees the
// Sender interface and the SendError kinds.
package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/whisper/bridge/internal/route"
)

// Kind classifies a send failure.
type Kind string

const (
	// KindMissingRecipient means the target id required by the message type
	// is absent. Never retried.
	KindMissingRecipient Kind = "missing_recipient"
	// KindTransport is a network or gateway availability failure. Retryable.
	KindTransport Kind = "transport_error"
	// KindRejected means the gateway answered and refused the message.
	KindRejected Kind = "rejected"
)

// SendError is the only error type a Sender returns.
type SendError struct {
	Kind Kind
	Err  error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on another attempt.
func (e *SendError) Retryable() bool {
	return e.Kind == KindTransport
}

// Retryable reports whether err is a retryable SendError.
func Retryable(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Retryable()
}

// ErrorKind returns the kind of a SendError, or KindTransport for any other
// error.
func ErrorKind(err error) Kind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransport
}

func transportErr(err error) *SendError {
	return &SendError{Kind: KindTransport, Err: err}
}

func rejectedErr(err error) *SendError {
	return &SendError{Kind: KindRejected, Err: err}
}

// Meta carries the routing context of an outbound message.
type Meta struct {
	SessionID   string      `json:"session_id"`
	GroupID     string      `json:"group_id,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	MessageType string      `json:"message_type,omitempty"`
	Route       route.Route `json:"route,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// ModerationInfo is the output-stage verdict a message passed.
type ModerationInfo struct {
	Allow    bool   `json:"allow"`
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// Message is one outbound delivery. Moderation is nil when no output check
// ran.
type Message struct {
	ID         string          `json:"id"`
	Text       string          `json:"text"`
	Meta       Meta            `json:"meta"`
	Moderation *ModerationInfo `json:"moderation,omitempty"`
}

// Sender delivers a message or returns a *SendError.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Target is the resolved recipient of a message.
type Target struct {
	MessageType string // "group" or "private"
	ID          string
}

// ResolveTarget picks the recipient from meta. An explicit message type
// requires the matching id; without one, a group id selects a group target
// and a user id a private one.
func ResolveTarget(m Meta) (Target, error) {
	switch m.MessageType {
	case route.MessageTypeGroup:
		if m.GroupID == "" {
			return Target{}, &SendError{Kind: KindMissingRecipient, Err: errors.New("group message without group_id")}
		}
		return Target{MessageType: route.MessageTypeGroup, ID: m.GroupID}, nil
	case route.MessageTypePrivate:
		if m.UserID == "" {
			return Target{}, &SendError{Kind: KindMissingRecipient, Err: errors.New("private message without user_id")}
		}
		return Target{MessageType: route.MessageTypePrivate, ID: m.UserID}, nil
	}
	switch {
	case m.GroupID != "":
		return Target{MessageType: route.MessageTypeGroup, ID: m.GroupID}, nil
	case m.UserID != "":
		return Target{MessageType: route.MessageTypePrivate, ID: m.UserID}, nil
	}
	return Target{}, &SendError{Kind: KindMissingRecipient, Err: errors.New("no group_id or user_id")}
}
