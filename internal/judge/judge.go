// Package judge is the semantic fallback classifier consulted when the rule
// engine cannot decide. Every call makes exactly one bounded attempt; retry
// and fallback policy belongs to the router.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/whisper/bridge/internal/route"
)

var (
	// ErrUnavailable means the classification service timed out or could not
	// be reached.
	ErrUnavailable = errors.New("judge: unavailable")

	// ErrInvalidResponse means the service answered with something that is
	// not a usable verdict.
	ErrInvalidResponse = errors.New("judge: invalid response")
)

// Verdict is the judge's classification of a single trigger message.
type Verdict struct {
	Route      route.Route
	Confidence float64
	Reasoning  string
}

// Judge classifies text given a window of recent conversation.
type Judge interface {
	Judge(ctx context.Context, text string, history []string) (Verdict, error)
}

// SystemInstruction constrains the model to a single-line JSON verdict.
const SystemInstruction = "You are a classifier. Decide only whether the trigger message is " +
	"issuing a command to, or interacting with, the starship voice command computer. " +
	"The context field holds preceding conversation for reference. " +
	`Reply with strict single-line JSON: {"route":"computer|chat","confidence":0.0-1.0,"reason":"..."}. ` +
	"Do not output any other text, markdown or explanation."

// BuildPrompt renders the trigger and context window into the user prompt.
func BuildPrompt(text string, history []string) string {
	ctxJSON, _ := json.Marshal(history)
	trigger, _ := json.Marshal(map[string]string{"text": text})
	return fmt.Sprintf("Context: %s\nTrigger: %s", ctxJSON, trigger)
}

// ParseVerdict decodes a model reply. Replies wrapped in a markdown code
// fence are tolerated; anything else that is not a complete verdict with a
// computer or chat route yields ErrInvalidResponse.
func ParseVerdict(raw string) (Verdict, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start != -1 && end > start {
			text = text[start : end+1]
		}
	}

	var payload struct {
		Route      *string  `json:"route"`
		Confidence *float64 `json:"confidence"`
		Reason     string   `json:"reason"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if payload.Route == nil || payload.Confidence == nil {
		return Verdict{}, fmt.Errorf("%w: incomplete verdict", ErrInvalidResponse)
	}

	r := route.Route(strings.ToLower(strings.TrimSpace(*payload.Route)))
	if r != route.Computer && r != route.Chat {
		return Verdict{}, fmt.Errorf("%w: unknown route %q", ErrInvalidResponse, *payload.Route)
	}
	conf := *payload.Confidence
	if conf < 0 || conf > 1 {
		return Verdict{}, fmt.Errorf("%w: confidence %v out of range", ErrInvalidResponse, conf)
	}

	reason := payload.Reason
	if reason == "" {
		reason = "judge"
	}
	return Verdict{Route: r, Confidence: conf, Reasoning: reason}, nil
}
