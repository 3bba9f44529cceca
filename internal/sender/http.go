package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultHTTPTimeout bounds a single gateway request.
const DefaultHTTPTimeout = 10 * time.Second

// gatewayPayload is the body posted to the HTTP gateway.
type gatewayPayload struct {
	Text       string          `json:"text"`
	SendItemID string          `json:"send_item_id"`
	Meta       Meta            `json:"meta"`
	Moderation *ModerationInfo `json:"moderation"`
}

// HTTP posts each message to a gateway endpoint as a JSON envelope of text,
// send item id, meta and the output moderation verdict. The gateway owns
// platform delivery; any 2xx answer is success.
type HTTP struct {
	endpoint string
	token    string
	client   *http.Client
	log      *zap.Logger
}

// NewHTTP creates an HTTP sender posting to endpoint exactly as given. An
// empty token sends no Authorization header.
func NewHTTP(endpoint, token string, timeout time.Duration, log *zap.Logger) *HTTP {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTP{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
		log:      log.Named("sender.http"),
	}
}

// Name implements Sender.
func (h *HTTP) Name() string {
	return "http"
}

// Send implements Sender. Network errors and 5xx answers are transport
// errors; other non-2xx answers are rejections.
func (h *HTTP) Send(ctx context.Context, msg Message) error {
	target, err := ResolveTarget(msg.Meta)
	if err != nil {
		return err
	}

	body, err := json.Marshal(gatewayPayload{
		Text:       msg.Text,
		SendItemID: msg.ID,
		Meta:       msg.Meta,
		Moderation: msg.Moderation,
	})
	if err != nil {
		return rejectedErr(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return rejectedErr(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return transportErr(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 500:
		return transportErr(fmt.Errorf("gateway status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return rejectedErr(fmt.Errorf("gateway status %d", resp.StatusCode))
	}

	h.log.Info("delivered",
		zap.String("id", msg.ID),
		zap.String("target_type", target.MessageType),
		zap.String("target", target.ID))
	return nil
}
