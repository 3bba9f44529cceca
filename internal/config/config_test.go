package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/bridge/internal/route"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2.0, cfg.SendQ.GlobalRPS)
	assert.Equal(t, 1200*time.Millisecond, cfg.SendQ.SessionCooldown)
	assert.Equal(t, 30, cfg.SendQ.MaxQueuePerSession)
	assert.Equal(t, 3*time.Second, cfg.Judge.Timeout)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"BOT_ENABLED_GROUPS":          "123, 456,,",
		"SENDQ_GLOBAL_RPS":            "5",
		"SENDQ_SESSION_COOLDOWN_MS":   "250",
		"SENDQ_MAX_QUEUE_PER_SESSION": "3",
		"SENDQ_MAX_ATTEMPTS":          "2",
		"SENDQ_SENDER":                "http",
		"QQ_SEND_ENDPOINT":            "http://gw:5700/send",
		"QQ_SEND_TOKEN":               "t0k",
		"QQ_SEND_TIMEOUT_SECONDS":     "3",
		"GEMINI_API_KEY":              "key",
		"GEMINI_TIMEOUT_SECONDS":      "1.5",
		"MODERATION_ENABLED":          "true",
		"MODERATION_FAIL_CLOSED":      "1",
		"LOG_LEVEL":                   "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"123", "456"}, cfg.Router.AllowedGroups)
	assert.Equal(t, 5.0, cfg.SendQ.GlobalRPS)
	assert.Equal(t, 250*time.Millisecond, cfg.SendQ.SessionCooldown)
	assert.Equal(t, 3, cfg.SendQ.MaxQueuePerSession)
	assert.Equal(t, 2, cfg.SendQ.MaxAttempts)
	assert.Equal(t, "http", cfg.Sender.Kind)
	assert.Equal(t, "t0k", cfg.Sender.Token)
	assert.Equal(t, "http://gw:5700/send", cfg.Sender.Endpoint)
	assert.Equal(t, 3*time.Second, cfg.Sender.Timeout)
	assert.Equal(t, "gemini", cfg.Judge.Provider, "an API key selects gemini")
	assert.Equal(t, 1500*time.Millisecond, cfg.Judge.Timeout)
	assert.True(t, cfg.Moderation.Enabled)
	assert.True(t, cfg.Moderation.FailClosed)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"SENDQ_GLOBAL_RPS":   "fast",
		"MODERATION_ENABLED": "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SENDQ_GLOBAL_RPS")
	assert.Contains(t, err.Error(), "MODERATION_ENABLED")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rps", func(c *Config) { c.SendQ.GlobalRPS = 0 }},
		{"negative cooldown", func(c *Config) { c.SendQ.SessionCooldown = -time.Second }},
		{"zero attempts", func(c *Config) { c.SendQ.MaxAttempts = 0 }},
		{"unknown sender", func(c *Config) { c.Sender.Kind = "fax" }},
		{"http without endpoint", func(c *Config) { c.Sender.Kind = "http" }},
		{"nats sender without url", func(c *Config) { c.Sender.Kind = "nats" }},
		{"gemini without key", func(c *Config) { c.Judge.Provider = "gemini" }},
		{"unknown judge", func(c *Config) { c.Judge.Provider = "oracle" }},
		{"remote moderation without nats", func(c *Config) {
			c.Moderation.Enabled = true
			c.Moderation.Provider = "remote"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	content := `
listen_addr: ":9090"
router:
  allowed_groups: ["1", "2"]
  cache_ttl: 1m
  rules:
    - name: status
      kind: contains
      pattern: 状态
      route: computer
      confidence: 0.9
sendq:
  global_rps: 4
  session_cooldown: 500ms
sender:
  kind: ws
  endpoint: ws://gateway:3001
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, []string{"1", "2"}, cfg.Router.AllowedGroups)
	assert.Equal(t, time.Minute, cfg.Router.CacheTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.SendQ.SessionCooldown)
	assert.Equal(t, 30, cfg.SendQ.MaxQueuePerSession, "unset fields keep defaults")

	engine, err := cfg.LoadRules()
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Len())
	assert.Equal(t, route.Computer, engine.Classify("报告传感器状态").Route)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sendq: [nope"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadRules_FileAndDefaults(t *testing.T) {
	cfg := Default()
	engine, err := cfg.LoadRules()
	require.NoError(t, err)
	assert.Greater(t, engine.Len(), 3)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - {name: x, kind: regex, pattern: '(', route: chat, confidence: 1}\n"), 0o644))
	cfg.Router.RulesFile = path
	_, err = cfg.LoadRules()
	assert.Error(t, err, "invalid regex is rejected")
}
