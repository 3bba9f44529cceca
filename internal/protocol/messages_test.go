package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid event message
// ---------------------------------------------------------------------------

func TestParseInboundMessage_Event(t *testing.T) {
	input := []byte(`{"type":"event","session_id":"g:123","text":"computer status","group_id":"123","ts":1700000000000,"context":["a","b"]}`)

	msgType, msg, err := ParseInboundMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeEvent {
		t.Fatalf("expected type %q, got %q", TypeEvent, msgType)
	}

	ev, ok := msg.(EventMsg)
	if !ok {
		t.Fatalf("expected EventMsg, got %T", msg)
	}
	if ev.SessionID != "g:123" || ev.GroupID != "123" {
		t.Errorf("unexpected ids: %+v", ev)
	}
	if len(ev.Context) != 2 {
		t.Errorf("expected 2 context entries, got %d", len(ev.Context))
	}
	if ev.Time().UnixMilli() != 1700000000000 {
		t.Errorf("unexpected time %v", ev.Time())
	}
}

func TestParseInboundMessage_EventMissingSession(t *testing.T) {
	_, _, err := ParseInboundMessage([]byte(`{"type":"event","text":"hi"}`))
	if err == nil {
		t.Fatal("expected error for missing session_id")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing send and feedback messages
// ---------------------------------------------------------------------------

func TestParseInboundMessage_Send(t *testing.T) {
	input := []byte(`{"type":"send","text":"hello","session_id":"p:9","user_id":"9","message_type":"private"}`)

	_, msg, err := ParseInboundMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sm, ok := msg.(SendMsg)
	if !ok {
		t.Fatalf("expected SendMsg, got %T", msg)
	}
	if sm.Text != "hello" || sm.UserID != "9" {
		t.Errorf("unexpected send: %+v", sm)
	}

	if _, _, err := ParseInboundMessage([]byte(`{"type":"send","session_id":"p:9"}`)); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestParseInboundMessage_Feedback(t *testing.T) {
	input := []byte(`{"type":"feedback","session_id":"s","text":"t","pred_route":"chat","correct_route":"computer"}`)

	_, msg, err := ParseInboundMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fb := msg.(FeedbackMsg)
	if fb.PredRoute != "chat" || fb.CorrectRoute != "computer" {
		t.Errorf("unexpected feedback: %+v", fb)
	}
}

// ---------------------------------------------------------------------------
// Test: Error cases
// ---------------------------------------------------------------------------

func TestParseInboundMessage_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"text":"hi"}`},
		{"empty type", `{"type":""}`},
		{"unknown type", `{"type":"teleport"}`},
		{"wrong field type", `{"type":"event","session_id":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseInboundMessage([]byte(tt.input)); err == nil {
				t.Errorf("expected error for %s", tt.input)
			}
		})
	}
}

func TestNewMessage_InjectsType(t *testing.T) {
	data, err := NewMessage(TypeError, ErrorMsg{Code: CodeQueueFull, Message: "queue is full"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if m["type"] != TypeError {
		t.Errorf("expected type %q, got %v", TypeError, m["type"])
	}
	if m["code"] != CodeQueueFull {
		t.Errorf("expected code %q, got %v", CodeQueueFull, m["code"])
	}
}

func TestEventMsg_Event(t *testing.T) {
	m := EventMsg{SessionID: "g:1", Text: "hi", GroupID: "1", Context: []string{"a"}}
	ev := m.Event()
	if ev.SessionID != "g:1" || !ev.IsGroup() || len(ev.Context) != 1 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected timestamp to default to now")
	}
}
