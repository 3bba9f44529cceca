// Package audit is the bridge's append-only record of what happened: one
// record per routing decision, one per send status transition, and one per
// human correction. Records are never updated or deleted.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/bridge/internal/route"
)

// Kind discriminates audit records.
type Kind string

const (
	KindDecision Kind = "decision"
	KindSend     Kind = "send"
	KindFeedback Kind = "feedback"
)

// DefaultListLimit is used when a caller asks for a non-positive number of
// records.
const DefaultListLimit = 100

// Record is a single audit log entry. Exactly one of Decision, Send or
// Feedback is set, matching Kind.
type Record struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Decision  *route.Decision `json:"decision,omitempty"`
	Send      *SendEvent      `json:"send,omitempty"`
	Feedback  *Feedback       `json:"feedback,omitempty"`
}

// SendEvent describes a send item status transition.
type SendEvent struct {
	ItemID    string      `json:"item_id"`
	Status    string      `json:"status"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
	Route     route.Route `json:"route,omitempty"`
}

// Feedback is a human correction of a routing decision.
type Feedback struct {
	Text         string      `json:"text"`
	PredRoute    route.Route `json:"pred_route"`
	CorrectRoute route.Route `json:"correct_route"`
	Note         string      `json:"note,omitempty"`
}

// Log is an append-only audit sink.
type Log interface {
	Append(ctx context.Context, r Record) error
	// List returns up to limit of the most recent records, oldest first.
	List(ctx context.Context, limit int) ([]Record, error)
}

// DecisionRecord wraps a routing decision.
func DecisionRecord(d route.Decision) Record {
	dc := d
	return Record{Kind: KindDecision, SessionID: d.SessionID, Timestamp: d.Timestamp, Decision: &dc}
}

// SendRecord wraps a send status transition.
func SendRecord(sessionID string, e SendEvent) Record {
	return Record{Kind: KindSend, SessionID: sessionID, Send: &e}
}

// FeedbackRecord wraps a correction.
func FeedbackRecord(sessionID string, f Feedback) Record {
	return Record{Kind: KindFeedback, SessionID: sessionID, Feedback: &f}
}

// stamp fills in the ID and timestamp when the caller left them empty.
func stamp(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return r
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
