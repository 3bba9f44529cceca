// Package config loads bridge settings: built-in defaults, then an optional
// YAML file, then environment variables. Environment names match the ones
// used by existing deployments.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/whisper/bridge/internal/rules"
)

// Config is the complete bridge configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	RedisAddr  string `yaml:"redis_addr"` // empty: in-process cache and rate limiter
	NATSURL    string `yaml:"nats_url"`   // empty: no NATS transport

	Router     RouterConfig     `yaml:"router"`
	Judge      JudgeConfig      `yaml:"judge"`
	Moderation ModerationConfig `yaml:"moderation"`
	SendQ      SendQConfig      `yaml:"sendq"`
	Sender     SenderConfig     `yaml:"sender"`
	Audit      AuditConfig      `yaml:"audit"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// RouterConfig configures admission, caching and the rule set.
type RouterConfig struct {
	AllowedGroups []string      `yaml:"allowed_groups"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	Deadline      time.Duration `yaml:"deadline"`
	HistoryWindow int           `yaml:"history_window"`
	RulesFile     string        `yaml:"rules_file"`
	Rules         []rules.Spec  `yaml:"rules"` // replaces the defaults when set
}

// JudgeConfig selects the semantic judge.
type JudgeConfig struct {
	Provider  string        `yaml:"provider"` // "", "gemini", "ollama"
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	OllamaURL string        `yaml:"ollama_url"`
}

// ModerationConfig configures the moderation gate.
type ModerationConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Provider     string        `yaml:"provider"` // "local" or "remote"
	FailClosed   bool          `yaml:"fail_closed"`
	Timeout      time.Duration `yaml:"timeout"`
	KeywordsFile string        `yaml:"keywords_file"`
	SpamChecks   bool          `yaml:"spam_checks"`
	CheckOutput  bool          `yaml:"check_output"`
}

// SendQConfig holds the send queue limits.
type SendQConfig struct {
	GlobalRPS          float64       `yaml:"global_rps"`
	SessionCooldown    time.Duration `yaml:"session_cooldown"`
	MaxQueue           int           `yaml:"max_queue"`
	MaxQueuePerSession int           `yaml:"max_queue_per_session"`
	MaxAttempts        int           `yaml:"max_attempts"`
	Retention          time.Duration `yaml:"retention"`
}

// SenderConfig selects the outbound sender.
type SenderConfig struct {
	Kind     string        `yaml:"kind"` // mock, http, ws, nats
	Endpoint string        `yaml:"endpoint"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AuditConfig selects the audit sink. DatabaseURL wins over Path.
type AuditConfig struct {
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
}

// RateLimitConfig toggles API rate limiting.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Router: RouterConfig{
			AllowedGroups: []string{"*"},
			CacheTTL:      180 * time.Second,
			Deadline:      5 * time.Second,
			HistoryWindow: 8,
		},
		Judge: JudgeConfig{
			Model:     "gemini-2.0-flash-lite",
			Timeout:   3 * time.Second,
			OllamaURL: "http://localhost:11434",
		},
		Moderation: ModerationConfig{
			Provider:   "local",
			Timeout:    3 * time.Second,
			SpamChecks: true,
		},
		SendQ: SendQConfig{
			GlobalRPS:          2.0,
			SessionCooldown:    1200 * time.Millisecond,
			MaxQueue:           1000,
			MaxQueuePerSession: 30,
			MaxAttempts:        1,
			Retention:          10 * time.Minute,
		},
		Sender: SenderConfig{
			Kind:    "mock",
			Timeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Path: "data/audit.jsonl",
		},
		RateLimit: RateLimitConfig{Enabled: true},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the process environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = f
		}
	}
	scaled := func(name string, unit time.Duration, dst *time.Duration) {
		var f float64 = -1
		float(name, &f)
		if f >= 0 {
			*dst = time.Duration(f * float64(unit))
		}
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("REDIS_ADDR", &c.RedisAddr)
	str("NATS_URL", &c.NATSURL)

	if v, ok := lookup("BOT_ENABLED_GROUPS"); ok && v != "" {
		c.Router.AllowedGroups = splitList(v)
	}
	str("ROUTER_RULES_FILE", &c.Router.RulesFile)

	str("JUDGE_PROVIDER", &c.Judge.Provider)
	str("GEMINI_API_KEY", &c.Judge.APIKey)
	str("GEMINI_MODEL", &c.Judge.Model)
	scaled("GEMINI_TIMEOUT_SECONDS", time.Second, &c.Judge.Timeout)
	str("OLLAMA_URL", &c.Judge.OllamaURL)
	if c.Judge.Provider == "" && c.Judge.APIKey != "" {
		c.Judge.Provider = "gemini"
	}

	boolean("MODERATION_ENABLED", &c.Moderation.Enabled)
	str("MODERATION_PROVIDER", &c.Moderation.Provider)
	boolean("MODERATION_FAIL_CLOSED", &c.Moderation.FailClosed)
	scaled("MODERATION_TIMEOUT_SECONDS", time.Second, &c.Moderation.Timeout)
	str("MODERATION_KEYWORDS_FILE", &c.Moderation.KeywordsFile)
	boolean("MODERATION_CHECK_OUTPUT", &c.Moderation.CheckOutput)

	float("SENDQ_GLOBAL_RPS", &c.SendQ.GlobalRPS)
	scaled("SENDQ_SESSION_COOLDOWN_MS", time.Millisecond, &c.SendQ.SessionCooldown)
	integer("SENDQ_MAX_QUEUE", &c.SendQ.MaxQueue)
	integer("SENDQ_MAX_QUEUE_PER_SESSION", &c.SendQ.MaxQueuePerSession)
	integer("SENDQ_MAX_ATTEMPTS", &c.SendQ.MaxAttempts)

	str("SENDQ_SENDER", &c.Sender.Kind)
	str("QQ_SEND_ENDPOINT", &c.Sender.Endpoint)
	str("QQ_SEND_TOKEN", &c.Sender.Token)
	scaled("QQ_SEND_TIMEOUT_SECONDS", time.Second, &c.Sender.Timeout)

	str("AUDIT_PATH", &c.Audit.Path)
	str("DATABASE_URL", &c.Audit.DatabaseURL)
	boolean("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)

	if len(errs) > 0 {
		return fmt.Errorf("config: env: %w", errors.Join(errs...))
	}
	return nil
}

// Validate rejects settings the bridge cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.SendQ.GlobalRPS <= 0 {
		errs = append(errs, fmt.Errorf("sendq.global_rps must be positive, got %v", c.SendQ.GlobalRPS))
	}
	if c.SendQ.SessionCooldown < 0 {
		errs = append(errs, fmt.Errorf("sendq.session_cooldown must not be negative"))
	}
	if c.SendQ.MaxQueuePerSession <= 0 {
		errs = append(errs, fmt.Errorf("sendq.max_queue_per_session must be positive"))
	}
	if c.SendQ.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("sendq.max_attempts must be at least 1"))
	}
	switch c.Sender.Kind {
	case "mock", "http", "ws", "nats":
	default:
		errs = append(errs, fmt.Errorf("sender.kind %q is not one of mock, http, ws, nats", c.Sender.Kind))
	}
	if (c.Sender.Kind == "http" || c.Sender.Kind == "ws") && c.Sender.Endpoint == "" {
		errs = append(errs, fmt.Errorf("sender.endpoint is required for the %s sender", c.Sender.Kind))
	}
	if c.Sender.Kind == "nats" && c.NATSURL == "" {
		errs = append(errs, fmt.Errorf("nats_url is required for the nats sender"))
	}
	switch c.Judge.Provider {
	case "", "ollama":
	case "gemini":
		if c.Judge.APIKey == "" {
			errs = append(errs, fmt.Errorf("judge.api_key is required for the gemini judge"))
		}
	default:
		errs = append(errs, fmt.Errorf("judge.provider %q is not one of gemini, ollama", c.Judge.Provider))
	}
	if c.Moderation.Enabled {
		switch c.Moderation.Provider {
		case "local":
		case "remote":
			if c.NATSURL == "" {
				errs = append(errs, fmt.Errorf("nats_url is required for remote moderation"))
			}
		default:
			errs = append(errs, fmt.Errorf("moderation.provider %q is not one of local, remote", c.Moderation.Provider))
		}
	}
	if c.Router.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("router.history_window must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadRules returns the configured rule engine: inline rules, else the
// rules file, else the built-in defaults.
func (c Config) LoadRules() (*rules.Engine, error) {
	specs := c.Router.Rules
	if len(specs) == 0 && c.Router.RulesFile != "" {
		data, err := os.ReadFile(c.Router.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("config: read rules: %w", err)
		}
		var file struct {
			Rules []rules.Spec `yaml:"rules"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("config: parse rules: %w", err)
		}
		specs = file.Rules
	}
	if len(specs) == 0 {
		return rules.Default(), nil
	}
	return rules.New(specs)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
