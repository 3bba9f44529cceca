// Package pipeline wires routing to delivery: an inbound event is routed,
// a reply is produced for it, and the reply is queued for sending. Blocked
// events never produce a reply.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/whisper/bridge/internal/route"
	"github.com/whisper/bridge/internal/sender"
)

// Router decides a route for an event. *router.Router satisfies it.
type Router interface {
	Route(ctx context.Context, ev route.Event) route.Decision
	Correct(ctx context.Context, sessionID, text string, predicted, correct route.Route, note string) error
}

// Queue accepts outbound text. *sendq.Queue satisfies it.
type Queue interface {
	Enqueue(ctx context.Context, text string, meta sender.Meta) (string, error)
}

// Responder produces the reply text for a routed event. An empty reply
// means nothing is sent.
type Responder interface {
	Respond(ctx context.Context, ev route.Event, d route.Decision) (string, error)
}

// Ack is the built-in responder. It acknowledges computer-routed events
// and stays silent for chat, leaving free-form replies to an external
// generator.
type Ack struct{}

// Respond implements Responder.
func (Ack) Respond(_ context.Context, ev route.Event, d route.Decision) (string, error) {
	if d.Route != route.Computer {
		return "", nil
	}
	return "Computer: acknowledged. " + strings.TrimSpace(ev.Text), nil
}

// Result is the outcome of handling one event.
type Result struct {
	Decision route.Decision `json:"decision"`
	ItemID   string         `json:"item_id,omitempty"`
}

// Service handles inbound events end to end.
type Service struct {
	router    Router
	queue     Queue
	responder Responder
	log       *zap.Logger
}

// New creates a service. A nil responder uses Ack.
func New(r Router, q Queue, resp Responder, log *zap.Logger) *Service {
	if resp == nil {
		resp = Ack{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{router: r, queue: q, responder: resp, log: log.Named("pipeline")}
}

// Handle routes ev and enqueues its reply. The decision is always returned;
// the error reports a responder or enqueue failure (for example
// sendq.ErrQueueFull) after routing succeeded.
func (s *Service) Handle(ctx context.Context, ev route.Event) (Result, error) {
	d := s.router.Route(ctx, ev)
	res := Result{Decision: d}
	if d.Route == route.Blocked {
		return res, nil
	}

	text, err := s.responder.Respond(ctx, ev, d)
	if err != nil {
		s.log.Warn("responder failed", zap.String("session", ev.SessionID), zap.Error(err))
		return res, fmt.Errorf("pipeline: respond: %w", err)
	}
	if text == "" {
		return res, nil
	}

	id, err := s.queue.Enqueue(ctx, text, MetaFor(ev, d))
	if err != nil {
		return res, fmt.Errorf("pipeline: enqueue: %w", err)
	}
	res.ItemID = id
	return res, nil
}

// Send queues text directly, bypassing routing.
func (s *Service) Send(ctx context.Context, text string, meta sender.Meta) (string, error) {
	return s.queue.Enqueue(ctx, text, meta)
}

// Correct forwards a human correction to the router.
func (s *Service) Correct(ctx context.Context, sessionID, text string, predicted, correct route.Route, note string) error {
	return s.router.Correct(ctx, sessionID, text, predicted, correct, note)
}

// MetaFor builds the send metadata for a reply to ev.
func MetaFor(ev route.Event, d route.Decision) sender.Meta {
	mt := ev.MessageType
	if mt == "" {
		mt = route.MessageTypePrivate
		if ev.IsGroup() {
			mt = route.MessageTypeGroup
		}
	}
	return sender.Meta{
		SessionID:   ev.SessionID,
		GroupID:     ev.GroupID,
		UserID:      ev.UserID,
		MessageType: mt,
		Route:       d.Route,
		Reason:      d.Reason,
	}
}
