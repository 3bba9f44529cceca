package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubProvider struct {
	res   Result
	err   error
	delay time.Duration
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Moderate(ctx context.Context, _ string, _ Stage) (Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return s.res, s.err
}

func TestGate_Disabled(t *testing.T) {
	g := NewGate(nil, FailClosed, 0, nil)

	v := g.Check(context.Background(), "anything", StageInput)
	assert.True(t, v.Allow)
	assert.Equal(t, ProviderDisabled, v.Provider)
	assert.Equal(t, ReasonDisabled, v.Reason)
	assert.False(t, g.Enabled())
}

func TestGate_LogsEveryVerdict(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	pass := NewGate(&stubProvider{res: Result{Action: ActionPass, Reason: "local_passed"}}, FailOpen, time.Second, log)
	block := NewGate(&stubProvider{res: Result{Action: ActionBlock, Reason: "blocked_keyword"}}, FailOpen, time.Second, log)
	failing := NewGate(&stubProvider{err: errors.New("down")}, FailOpen, time.Second, log)
	disabled := NewGate(nil, FailOpen, 0, log)

	pass.Check(context.Background(), "hi", StageInput)
	block.Check(context.Background(), "bad", StageOutput)
	failing.Check(context.Background(), "hi", StageInput)
	disabled.Check(context.Background(), "hi", StageInput)

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "text allowed", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "input", entries[0].ContextMap()["stage"])
	assert.Equal(t, "text denied", entries[1].Message)
	assert.Equal(t, "provider error", entries[2].Message)
	assert.Equal(t, "text allowed", entries[3].Message)
	assert.Equal(t, ProviderDisabled, entries[3].ContextMap()["provider"])
}

func TestGate_Actions(t *testing.T) {
	tests := []struct {
		action Action
		allow  bool
	}{
		{ActionPass, true},
		{ActionReview, false},
		{ActionBlock, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			g := NewGate(&stubProvider{res: Result{Action: tt.action, Reason: "r"}}, FailOpen, time.Second, nil)
			v := g.Check(context.Background(), "text", StageOutput)
			assert.Equal(t, tt.allow, v.Allow)
			assert.Equal(t, tt.action, v.Action)
			assert.Equal(t, "stub", v.Provider)
			assert.Equal(t, StageOutput, v.Stage)
		})
	}
}

func TestGate_ProviderErrorPolicy(t *testing.T) {
	p := &stubProvider{err: errors.New("boom")}

	open := NewGate(p, FailOpen, time.Second, nil).Check(context.Background(), "x", StageInput)
	assert.True(t, open.Allow)
	assert.Equal(t, ReasonProviderError, open.Reason)

	closed := NewGate(p, FailClosed, time.Second, nil).Check(context.Background(), "x", StageInput)
	assert.False(t, closed.Allow)
	assert.Equal(t, ReasonProviderError, closed.Reason)
}

func TestGate_Timeout(t *testing.T) {
	p := &stubProvider{res: Result{Action: ActionPass}, delay: time.Second}
	g := NewGate(p, FailClosed, 20*time.Millisecond, nil)

	start := time.Now()
	v := g.Check(context.Background(), "slow", StageInput)
	assert.False(t, v.Allow)
	assert.Equal(t, ReasonProviderError, v.Reason)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGate_UnknownPolicyDefaultsOpen(t *testing.T) {
	g := NewGate(&stubProvider{}, Policy("bogus"), 0, nil)
	assert.Equal(t, FailOpen, g.Policy())
}

func TestLocal_ModerateAndReload(t *testing.T) {
	l := NewLocal(NewFilterWithTerms([]string{"badword"}))

	res, err := l.Moderate(context.Background(), "a badword here", StageInput)
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, res.Action)
	assert.Equal(t, "badword", res.Term)

	l.Reload(NewFilterWithTerms(nil))
	res, err = l.Moderate(context.Background(), "a badword here", StageInput)
	require.NoError(t, err)
	assert.Equal(t, ActionPass, res.Action)
}

type stubRequester struct {
	reply   []byte
	err     error
	subject string
	req     CheckRequest
}

func (s *stubRequester) Request(_ context.Context, subject string, data []byte) ([]byte, error) {
	s.subject = subject
	_ = json.Unmarshal(data, &s.req)
	return s.reply, s.err
}

func TestRemote_Moderate(t *testing.T) {
	reply, _ := json.Marshal(CheckResponse{Action: ActionReview, Reason: "model_flagged"})
	r := &stubRequester{reply: reply}
	p := NewRemote(r, "bridge.moderation.check")

	res, err := p.Moderate(context.Background(), "hello", StageOutput)
	require.NoError(t, err)
	assert.Equal(t, ActionReview, res.Action)
	assert.Equal(t, "model_flagged", res.Reason)
	assert.Equal(t, "bridge.moderation.check", r.subject)
	assert.Equal(t, "hello", r.req.Text)
	assert.Equal(t, StageOutput, r.req.Stage)
}

func TestRemote_Errors(t *testing.T) {
	tests := []struct {
		name string
		r    *stubRequester
	}{
		{"transport", &stubRequester{err: errors.New("no responders")}},
		{"malformed", &stubRequester{reply: []byte("{not json")}},
		{"unknown action", &stubRequester{reply: []byte(`{"action":"maybe"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRemote(tt.r, "s").Moderate(context.Background(), "x", StageInput)
			assert.Error(t, err)
		})
	}
}

func TestRespond(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword"})

	assert.Equal(t, ActionBlock, Respond(f, CheckRequest{Text: "badword"}).Action)
	assert.Equal(t, ActionPass, Respond(f, CheckRequest{Text: "status report"}).Action)
}
