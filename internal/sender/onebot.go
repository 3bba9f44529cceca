package sender

import (
	"encoding/json"
	"strconv"

	"github.com/whisper/bridge/internal/route"
)

// OneBot action names for outbound messages.
const (
	actionSendGroupMsg   = "send_group_msg"
	actionSendPrivateMsg = "send_private_msg"
)

// onebotAction is a OneBot v11 API call.
type onebotAction struct {
	Action string       `json:"action"`
	Params onebotParams `json:"params"`
	Echo   string       `json:"echo,omitempty"`
}

type onebotParams struct {
	GroupID json.RawMessage `json:"group_id,omitempty"`
	UserID  json.RawMessage `json:"user_id,omitempty"`
	Message string          `json:"message"`
}

// onebotResponse is the gateway's answer to an action.
type onebotResponse struct {
	Status  string `json:"status"`
	Retcode int    `json:"retcode"`
	Message string `json:"message,omitempty"`
	Wording string `json:"wording,omitempty"`
	Echo    string `json:"echo,omitempty"`
}

func (r onebotResponse) ok() bool {
	return r.Status == "ok" || (r.Status == "" && r.Retcode == 0)
}

func (r onebotResponse) detail() string {
	if r.Wording != "" {
		return r.Wording
	}
	if r.Message != "" {
		return r.Message
	}
	return "status=" + r.Status + " retcode=" + strconv.Itoa(r.Retcode)
}

// numericID encodes numeric platform ids as JSON numbers and anything else
// as a string.
func numericID(id string) json.RawMessage {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return json.RawMessage(id)
	}
	b, _ := json.Marshal(id)
	return b
}

func newOneBotAction(t Target, text, echo string) onebotAction {
	a := onebotAction{Params: onebotParams{Message: text}, Echo: echo}
	if t.MessageType == route.MessageTypeGroup {
		a.Action = actionSendGroupMsg
		a.Params.GroupID = numericID(t.ID)
	} else {
		a.Action = actionSendPrivateMsg
		a.Params.UserID = numericID(t.ID)
	}
	return a
}
