package moderation

// CheckRequest is sent on the moderation.check subject by the bridge when a
// remote moderation service is configured. The service answers on the
// request's reply subject with a CheckResponse.
type CheckRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Stage     Stage  `json:"stage"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"`
}

// CheckResponse is the remote moderation outcome. Action "review" is
// treated the same as "block" by the gate.
type CheckResponse struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
	Term   string `json:"term,omitempty"`
	Label  string `json:"label,omitempty"`
}
