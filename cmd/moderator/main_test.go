package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/whisper/bridge/internal/moderation"
)

func TestHandler(t *testing.T) {
	h := handler(moderation.NewFilterWithTerms([]string{"badword"}).WithSpamChecks(), zap.NewNop())

	tests := []struct {
		name   string
		text   string
		action moderation.Action
		reason string
	}{
		{"clean", "computer, report status", moderation.ActionPass, "local_passed"},
		{"keyword", "this is a badword", moderation.ActionBlock, "blocked_keyword"},
		{"spam", "buy at https://spam.example", moderation.ActionBlock, "spam_pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := json.Marshal(moderation.CheckRequest{Stage: moderation.StageInput, Text: tt.text})
			require.NoError(t, err)

			var resp moderation.CheckResponse
			require.NoError(t, json.Unmarshal(h(req), &resp))
			assert.Equal(t, tt.action, resp.Action)
			assert.Equal(t, tt.reason, resp.Reason)
		})
	}
}

func TestHandler_MalformedRequest(t *testing.T) {
	h := handler(moderation.NewFilterWithTerms(nil), zap.NewNop())
	assert.Nil(t, h([]byte("{")))
}
