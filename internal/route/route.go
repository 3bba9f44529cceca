// Package route defines the routing vocabulary shared by the rule engine,
// decision cache, semantic judge and router: the inbound event, the route a
// message is classified into, and the immutable decision record produced for
// every event.
package route

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Route is the classification outcome that selects downstream handling.
type Route string

const (
	// Computer sends the event down the tool-invocation path.
	Computer Route = "computer"
	// Chat sends the event down the free-form reply path.
	Chat Route = "chat"
	// Blocked stops the event; nothing is generated or sent.
	Blocked Route = "blocked"
	// Unknown is only ever produced by the rule engine and is always resolved
	// by the router before a decision is recorded.
	Unknown Route = "unknown"
)

// Valid reports whether r is a terminal route a decision may carry.
func (r Route) Valid() bool {
	switch r {
	case Computer, Chat, Blocked:
		return true
	}
	return false
}

// Source records which stage of the router produced a decision.
type Source string

const (
	SourceRule       Source = "rule"
	SourceCache      Source = "cache"
	SourceJudge      Source = "judge"
	SourceFallback   Source = "fallback"
	SourceModeration Source = "moderation"
	SourceAdmission  Source = "admission"
)

// Fixed reason strings. These are user-visible through the audit log and the
// API, so they never carry transport detail.
const (
	ReasonGroupNotWhitelisted = "group_not_whitelisted"
	ReasonBlockedByModeration = "blocked_by_moderation"
	ReasonJudgeUnavailable    = "judge_unavailable"
	ReasonJudgeErrorFallback  = "judge_error_fallback_chat"
)

// Message types carried by inbound events.
const (
	MessageTypeGroup   = "group"
	MessageTypePrivate = "private"
)

// Event is a normalized inbound conversational event. It is never mutated
// after construction.
type Event struct {
	SessionID   string    `json:"session_id"`
	Text        string    `json:"text"`
	GroupID     string    `json:"group_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	MessageType string    `json:"message_type,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Context     []string  `json:"context,omitempty"`
}

// IsGroup reports whether the event belongs to a group conversation.
func (e Event) IsGroup() bool {
	return e.GroupID != "" || e.MessageType == MessageTypeGroup
}

// Decision is the single routing outcome recorded for an inbound event.
type Decision struct {
	SessionID      string    `json:"session_id"`
	TextHash       string    `json:"text_hash"`
	Route          Route     `json:"route"`
	Source         Source    `json:"source"`
	Confidence     float64   `json:"confidence"`
	Reason         string    `json:"reason"`
	MatchedPattern string    `json:"matched_pattern,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Normalize folds text into the canonical form used for rule matching and
// cache keys: NFKC (full-width to half-width), lower case, trimmed, with
// internal whitespace runs collapsed to one space.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// TextHash returns a short deterministic digest of already normalized text.
func TextHash(normalized string) string {
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h[:8])
}

// Key derives the cache key for a (session, normalized text) pair.
func Key(sessionID, normalized string) string {
	h := sha256.Sum256([]byte(sessionID + "\x00" + normalized))
	return fmt.Sprintf("%x", h[:16])
}
