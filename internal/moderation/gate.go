package moderation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/bridge/internal/metrics"
)

// Stage identifies where in the pipeline a check runs.
type Stage string

const (
	StageInput  Stage = "input"
	StageOutput Stage = "output"
)

// Action is a provider's recommendation.
type Action string

const (
	ActionPass   Action = "pass"
	ActionReview Action = "review"
	ActionBlock  Action = "block"
)

// Policy decides the verdict when the provider cannot answer.
type Policy string

const (
	FailOpen   Policy = "fail_open"
	FailClosed Policy = "fail_closed"
)

// Reasons produced by the gate itself.
const (
	ReasonDisabled      = "moderation_disabled"
	ReasonProviderError = "provider_error"
	ProviderDisabled    = "disabled"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 3 * time.Second

// Result is what a provider returns for one text.
type Result struct {
	Action Action
	Reason string
	Term   string
}

// Provider is a content moderation backend.
type Provider interface {
	Name() string
	Moderate(ctx context.Context, text string, stage Stage) (Result, error)
}

// Verdict is the gate's decision for one text at one stage.
type Verdict struct {
	Text      string    `json:"-"`
	Stage     Stage     `json:"stage"`
	Allow     bool      `json:"allow"`
	Action    Action    `json:"action"`
	Provider  string    `json:"provider"`
	Reason    string    `json:"reason"`
	Term      string    `json:"term,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Gate applies one provider with one failure policy to both stages.
type Gate struct {
	provider Provider
	policy   Policy
	timeout  time.Duration
	log      *zap.Logger
}

// NewGate creates a gate. A nil provider disables moderation: every check
// allows with provider "disabled".
func NewGate(provider Provider, policy Policy, timeout time.Duration, log *zap.Logger) *Gate {
	if policy != FailClosed {
		policy = FailOpen
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{provider: provider, policy: policy, timeout: timeout, log: log.Named("moderation")}
}

// Enabled reports whether a provider is configured.
func (g *Gate) Enabled() bool {
	return g.provider != nil
}

// Policy returns the configured failure policy.
func (g *Gate) Policy() Policy {
	return g.policy
}

// Check screens text. It never returns an error: provider failures resolve
// through the configured policy with reason "provider_error".
func (g *Gate) Check(ctx context.Context, text string, stage Stage) Verdict {
	v := Verdict{Text: text, Stage: stage, Timestamp: time.Now()}

	if g.provider == nil {
		v.Allow = true
		v.Action = ActionPass
		v.Provider = ProviderDisabled
		v.Reason = ReasonDisabled
		g.log.Debug("text allowed", zap.String("provider", v.Provider), zap.String("stage", string(stage)))
		return v
	}
	v.Provider = g.provider.Name()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.provider.Moderate(ctx, text, stage)
	if err != nil {
		v.Allow = g.policy == FailOpen
		v.Action = ActionPass
		if !v.Allow {
			v.Action = ActionBlock
		}
		v.Reason = ReasonProviderError
		g.log.Warn("provider error",
			zap.String("provider", v.Provider),
			zap.String("stage", string(stage)),
			zap.String("policy", string(g.policy)),
			zap.Error(err))
		metrics.ModerationVerdicts.WithLabelValues(string(stage), "error").Inc()
		return v
	}

	v.Action = res.Action
	v.Reason = res.Reason
	v.Term = res.Term
	// Review is treated as block until a human review path exists.
	v.Allow = res.Action == ActionPass

	outcome := "allow"
	if v.Allow {
		g.log.Debug("text allowed",
			zap.String("provider", v.Provider),
			zap.String("stage", string(stage)),
			zap.String("reason", res.Reason))
	} else {
		outcome = "deny"
		g.log.Info("text denied",
			zap.String("provider", v.Provider),
			zap.String("stage", string(stage)),
			zap.String("action", string(res.Action)),
			zap.String("reason", res.Reason),
			zap.String("term", res.Term))
	}
	metrics.ModerationVerdicts.WithLabelValues(string(stage), outcome).Inc()
	return v
}
