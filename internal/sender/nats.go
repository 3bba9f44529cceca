package sender

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher publishes an outbound payload for a session.
// *messaging.NATSClient satisfies it.
type Publisher interface {
	PublishOutbound(sessionID string, data []byte) error
}

// NATS publishes each message as JSON on bridge.outbound.<session>, leaving
// delivery to a platform adapter subscribed there.
type NATS struct {
	pub Publisher
}

// NewNATS creates a NATS sender.
func NewNATS(pub Publisher) *NATS {
	return &NATS{pub: pub}
}

// Name implements Sender.
func (n *NATS) Name() string {
	return "nats"
}

// Send implements Sender.
func (n *NATS) Send(ctx context.Context, msg Message) error {
	if _, err := ResolveTarget(msg.Meta); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return transportErr(err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return rejectedErr(fmt.Errorf("marshal message: %w", err))
	}
	if err := n.pub.PublishOutbound(msg.Meta.SessionID, data); err != nil {
		return transportErr(err)
	}
	return nil
}
