package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

// DefaultAckTimeout bounds the wait for a gateway echo.
const DefaultAckTimeout = 10 * time.Second

// WS sends OneBot actions over a single WebSocket connection to the gateway
// and waits for the response carrying the same echo. The connection is
// dialed lazily and redialed after any I/O error. Sends are serialized.
type WS struct {
	url     string
	token   string
	timeout time.Duration
	log     *zap.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewWS creates a WebSocket sender for the gateway at url.
func NewWS(url, token string, timeout time.Duration, log *zap.Logger) *WS {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WS{url: url, token: token, timeout: timeout, log: log.Named("sender.ws")}
}

// Name implements Sender.
func (w *WS) Name() string {
	return "ws"
}

// Send implements Sender.
func (w *WS) Send(ctx context.Context, msg Message) error {
	target, err := ResolveTarget(msg.Meta)
	if err != nil {
		return err
	}
	data, err := json.Marshal(newOneBotAction(target, msg.Text, msg.ID))
	if err != nil {
		return rejectedErr(fmt.Errorf("marshal action: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	conn, err := w.connLocked(ctx)
	if err != nil {
		return transportErr(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		w.dropLocked()
		return transportErr(fmt.Errorf("write: %w", err))
	}

	resp, err := w.awaitEcho(conn, msg.ID)
	if err != nil {
		w.dropLocked()
		return transportErr(err)
	}
	_ = conn.SetDeadline(time.Time{})

	if !resp.ok() {
		return rejectedErr(fmt.Errorf("gateway refused: %s", resp.detail()))
	}
	w.log.Debug("sent", zap.String("id", msg.ID), zap.String("target", target.ID))
	return nil
}

// awaitEcho reads frames until the response for echo arrives. Other frames
// (platform events, responses to other callers) are skipped.
func (w *WS) awaitEcho(conn net.Conn, echo string) (onebotResponse, error) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			return onebotResponse{}, fmt.Errorf("read: %w", err)
		}
		var resp onebotResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Echo == echo {
			return resp, nil
		}
	}
}

func (w *WS) connLocked(ctx context.Context) (net.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}
	dialer := ws.Dialer{}
	if w.token != "" {
		dialer.Header = ws.HandshakeHeaderHTTP(http.Header{
			"Authorization": []string{"Bearer " + w.token},
		})
	}
	conn, br, _, err := dialer.Dial(ctx, w.url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", w.url, err)
	}
	if br != nil {
		// Frames that arrived with the handshake response are buffered in br.
		conn = &bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
	}
	w.log.Info("connected", zap.String("url", w.url))
	w.conn = conn
	return conn, nil
}

func (w *WS) dropLocked() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

// Close closes the gateway connection.
func (w *WS) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dropLocked()
	return nil
}

type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
