package sender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groupMsg(id, group string) Message {
	return Message{ID: id, Text: "hello", Meta: Meta{SessionID: "g:" + group, GroupID: group, MessageType: "group"}}
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name    string
		meta    Meta
		want    Target
		missing bool
	}{
		{"group", Meta{GroupID: "1", MessageType: "group"}, Target{"group", "1"}, false},
		{"group without id", Meta{UserID: "2", MessageType: "group"}, Target{}, true},
		{"private", Meta{UserID: "2", MessageType: "private"}, Target{"private", "2"}, false},
		{"private without id", Meta{GroupID: "1", MessageType: "private"}, Target{}, true},
		{"implicit group", Meta{GroupID: "1", UserID: "2"}, Target{"group", "1"}, false},
		{"implicit private", Meta{UserID: "2"}, Target{"private", "2"}, false},
		{"nothing", Meta{SessionID: "s"}, Target{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveTarget(tt.meta)
			if tt.missing {
				require.Error(t, err)
				assert.Equal(t, KindMissingRecipient, ErrorKind(err))
				assert.False(t, Retryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendError(t *testing.T) {
	base := errors.New("connection refused")
	err := error(transportErr(base))

	assert.True(t, Retryable(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "transport_error: connection refused", err.Error())
	assert.False(t, Retryable(rejectedErr(base)))
	assert.Equal(t, KindTransport, ErrorKind(base))
}

func TestMock(t *testing.T) {
	m := NewMock(nil)
	require.NoError(t, m.Send(context.Background(), groupMsg("1", "123")))
	require.NoError(t, m.Send(context.Background(), Message{ID: "2", Text: "x", Meta: Meta{SessionID: "A"}}))

	sent := m.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "1", sent[0].ID)
	assert.Equal(t, "A", sent[1].Meta.SessionID)
}

func TestHTTP_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL+"/qq/send", "secret", time.Second, nil)
	require.NoError(t, h.Send(context.Background(), groupMsg("1", "123")))

	assert.Equal(t, "/qq/send", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "hello", gotBody["text"])
	assert.Equal(t, "1", gotBody["send_item_id"])
	assert.Nil(t, gotBody["moderation"])
	require.Contains(t, gotBody, "moderation")
	meta, ok := gotBody["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "123", meta["group_id"])
	assert.Equal(t, "g:123", meta["session_id"])
}

func TestHTTP_CarriesModerationVerdict(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer srv.Close()

	msg := groupMsg("7", "123")
	msg.Moderation = &ModerationInfo{Allow: true, Provider: "local", Reason: "local_passed"}
	require.NoError(t, NewHTTP(srv.URL, "", time.Second, nil).Send(context.Background(), msg))

	mod, ok := gotBody["moderation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, mod["allow"])
	assert.Equal(t, "local", mod["provider"])
}

func TestHTTP_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   Kind
	}{
		{"server error", http.StatusBadGateway, KindTransport},
		{"client error", http.StatusForbidden, KindRejected},
		{"not found", http.StatusNotFound, KindRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewHTTP(srv.URL, "", time.Second, nil).Send(context.Background(), groupMsg("1", "123"))
			require.Error(t, err)
			assert.Equal(t, tt.kind, ErrorKind(err))
		})
	}
}

func TestHTTP_MissingRecipient(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	err := NewHTTP(srv.URL, "", time.Second, nil).Send(context.Background(),
		Message{ID: "1", Text: "hi", Meta: Meta{SessionID: "g:1", MessageType: "group"}})
	require.Error(t, err)
	assert.Equal(t, KindMissingRecipient, ErrorKind(err))
	assert.False(t, called, "nothing is posted without a recipient")
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTP(url, "", time.Second, nil).Send(context.Background(), groupMsg("1", "123"))
	require.Error(t, err)
	assert.True(t, Retryable(err))
}

// newOneBotServer runs a WebSocket gateway that answers every action with
// an unrelated event frame followed by the response for the action's echo.
// Group 999 is refused.
func newOneBotServer(t *testing.T) (string, <-chan string) {
	t.Helper()
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case auth <- r.Header.Get("Authorization"):
		default:
		}
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			for {
				data, err := wsutil.ReadClientText(conn)
				if err != nil {
					return
				}
				var action struct {
					Action string `json:"action"`
					Params struct {
						GroupID json.Number `json:"group_id"`
					} `json:"params"`
					Echo string `json:"echo"`
				}
				if err := json.Unmarshal(data, &action); err != nil {
					return
				}
				_ = wsutil.WriteServerText(conn, []byte(`{"post_type":"meta_event","meta_event_type":"heartbeat"}`))

				status, retcode := "ok", 0
				if action.Params.GroupID.String() == "999" {
					status, retcode = "failed", 100
				}
				resp, _ := json.Marshal(map[string]any{"status": status, "retcode": retcode, "echo": action.Echo})
				if err := wsutil.WriteServerText(conn, resp); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), auth
}

func TestWS_SendAwaitsEcho(t *testing.T) {
	url, auth := newOneBotServer(t)
	w := NewWS(url, "tok", time.Second, nil)
	t.Cleanup(func() { w.Close() })

	require.NoError(t, w.Send(context.Background(), groupMsg("a", "123")))
	require.NoError(t, w.Send(context.Background(), groupMsg("b", "123")))
	assert.Equal(t, "Bearer tok", <-auth)

	err := w.Send(context.Background(), groupMsg("c", "999"))
	require.Error(t, err)
	assert.Equal(t, KindRejected, ErrorKind(err))

	require.NoError(t, w.Send(context.Background(), groupMsg("d", "123")), "connection survives a rejection")
}

func TestWS_DialFailureIsTransport(t *testing.T) {
	w := NewWS("ws://127.0.0.1:1", "", 200*time.Millisecond, nil)
	err := w.Send(context.Background(), groupMsg("a", "1"))
	require.Error(t, err)
	assert.True(t, Retryable(err))
}

type stubPublisher struct {
	subject string
	data    []byte
	err     error
}

func (p *stubPublisher) PublishOutbound(sessionID string, data []byte) error {
	p.subject = sessionID
	p.data = data
	return p.err
}

func TestNATS(t *testing.T) {
	pub := &stubPublisher{}
	n := NewNATS(pub)

	require.NoError(t, n.Send(context.Background(), groupMsg("1", "123")))
	assert.Equal(t, "g:123", pub.subject)
	var got Message
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, "hello", got.Text)

	pub.err = errors.New("nats: connection closed")
	assert.True(t, Retryable(n.Send(context.Background(), groupMsg("2", "123"))))
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg     Config
		pub     Publisher
		name    string
		wantErr bool
	}{
		{Config{}, nil, "mock", false},
		{Config{Kind: KindHTTP, Endpoint: "http://gw"}, nil, "http", false},
		{Config{Kind: KindHTTP}, nil, "", true},
		{Config{Kind: KindWS, Endpoint: "ws://gw"}, nil, "ws", false},
		{Config{Kind: KindNATS}, nil, "", true},
		{Config{Kind: KindNATS}, &stubPublisher{}, "nats", false},
		{Config{Kind: "carrier-pigeon"}, nil, "", true},
	}

	for _, tt := range tests {
		s, err := New(tt.cfg, tt.pub, nil)
		if tt.wantErr {
			assert.Error(t, err, "kind %q", tt.cfg.Kind)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.name, s.Name())
	}
}
