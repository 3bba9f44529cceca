package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Requester performs a request/reply round trip on a subject.
// *messaging.NATSClient satisfies it.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// Remote asks a moderation service over request/reply messaging.
type Remote struct {
	requester Requester
	subject   string
}

// NewRemote creates a remote provider publishing requests on subject.
func NewRemote(r Requester, subject string) *Remote {
	return &Remote{requester: r, subject: subject}
}

// Name implements Provider.
func (r *Remote) Name() string {
	return "remote"
}

// Moderate implements Provider. Timeouts, transport errors, malformed
// replies and unknown actions are all errors, so the gate policy applies.
func (r *Remote) Moderate(ctx context.Context, text string, stage Stage) (Result, error) {
	req := CheckRequest{Stage: stage, Text: text, Ts: time.Now().Unix()}
	data, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("moderation: marshal request: %w", err)
	}

	reply, err := r.requester.Request(ctx, r.subject, data)
	if err != nil {
		return Result{}, fmt.Errorf("moderation: request %s: %w", r.subject, err)
	}

	var resp CheckResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return Result{}, fmt.Errorf("moderation: decode reply: %w", err)
	}
	switch resp.Action {
	case ActionPass, ActionReview, ActionBlock:
	default:
		return Result{}, fmt.Errorf("moderation: unknown action %q", resp.Action)
	}
	return Result{Action: resp.Action, Reason: resp.Reason, Term: resp.Term}, nil
}

// Respond builds the reply for a CheckRequest using a local filter. The
// moderator service uses it to answer bridge requests.
func Respond(f *Filter, req CheckRequest) CheckResponse {
	res := f.Check(req.Text)
	if !res.Blocked {
		return CheckResponse{Action: ActionPass, Reason: "local_passed"}
	}
	return CheckResponse{Action: ActionBlock, Reason: res.Reason, Term: res.Term}
}
