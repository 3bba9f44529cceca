package sender

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Mock logs every message and always succeeds. Delivered messages are kept
// for inspection.
type Mock struct {
	log  *zap.Logger
	mu   sync.Mutex
	sent []Message
}

// NewMock creates a mock sender.
func NewMock(log *zap.Logger) *Mock {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mock{log: log.Named("sender.mock")}
}

// Name implements Sender.
func (m *Mock) Name() string {
	return "mock"
}

// Send implements Sender. The target is logged when meta names one; a
// missing recipient is not an error here.
func (m *Mock) Send(_ context.Context, msg Message) error {
	fields := []zap.Field{
		zap.String("id", msg.ID),
		zap.String("session", msg.Meta.SessionID),
		zap.String("text", msg.Text),
	}
	if target, err := ResolveTarget(msg.Meta); err == nil {
		fields = append(fields,
			zap.String("target_type", target.MessageType),
			zap.String("target", target.ID))
	}
	m.log.Info("send", fields...)

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

// Sent returns a copy of the delivered messages in order.
func (m *Mock) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
