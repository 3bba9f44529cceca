package route

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"  Hello   World  ", "hello world"},
		{"COMPUTER，报告", "computer,报告"},
		{"ｃｏｍｐｕｔｅｒ", "computer"},
		{"line\nbreak\ttab", "line break tab"},
		{"", ""},
	}

	for _, tt := range tests {
		got := Normalize(tt.input)
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestKey_SessionScoped(t *testing.T) {
	k1 := Key("group:1", "报告状态")
	k2 := Key("group:2", "报告状态")
	k3 := Key("group:1", "报告状态")

	if k1 == k2 {
		t.Errorf("keys for different sessions should differ")
	}
	if k1 != k3 {
		t.Errorf("key should be deterministic: %s != %s", k1, k3)
	}
}

func TestKey_NoConcatenationCollision(t *testing.T) {
	if Key("ab", "c") == Key("a", "bc") {
		t.Errorf("session/text boundary must be part of the key")
	}
}

func TestTextHash(t *testing.T) {
	if TextHash("a") == TextHash("b") {
		t.Errorf("different texts should hash differently")
	}
	if len(TextHash("a")) != 16 {
		t.Errorf("TextHash length = %d, want 16", len(TextHash("a")))
	}
}

func TestRouteValid(t *testing.T) {
	for _, r := range []Route{Computer, Chat, Blocked} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	for _, r := range []Route{Unknown, "", "tool"} {
		if r.Valid() {
			t.Errorf("%q should not be valid", r)
		}
	}
}

func TestEventIsGroup(t *testing.T) {
	if !(Event{GroupID: "123"}).IsGroup() {
		t.Error("event with group id should be a group event")
	}
	if !(Event{MessageType: MessageTypeGroup}).IsGroup() {
		t.Error("group message type should be a group event")
	}
	if (Event{MessageType: MessageTypePrivate, UserID: "9"}).IsGroup() {
		t.Error("private event should not be a group event")
	}
}
