package sender

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sender kinds selectable in configuration.
const (
	KindMock = "mock"
	KindHTTP = "http"
	KindWS   = "ws"
	KindNATS = "nats"
)

// Config selects and configures the sender variant.
type Config struct {
	Kind     string
	Endpoint string // http gateway URL (posted to as is) or ws URL
	Token    string
	Timeout  time.Duration
}

// New builds the configured sender. pub is only required for the nats kind.
func New(cfg Config, pub Publisher, log *zap.Logger) (Sender, error) {
	switch cfg.Kind {
	case "", KindMock:
		return NewMock(log), nil
	case KindHTTP:
		if cfg.Endpoint == "" {
			return nil, errors.New("sender: http sender requires an endpoint")
		}
		return NewHTTP(cfg.Endpoint, cfg.Token, cfg.Timeout, log), nil
	case KindWS:
		if cfg.Endpoint == "" {
			return nil, errors.New("sender: ws sender requires an endpoint")
		}
		return NewWS(cfg.Endpoint, cfg.Token, cfg.Timeout, log), nil
	case KindNATS:
		if pub == nil {
			return nil, errors.New("sender: nats sender requires a NATS connection")
		}
		return NewNATS(pub), nil
	default:
		return nil, fmt.Errorf("sender: unknown kind %q", cfg.Kind)
	}
}
