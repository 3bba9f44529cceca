// Package router produces exactly one routing decision per inbound event.
// Group admission and input moderation come first; then the decision cache,
// the rule engine and finally the semantic judge are consulted in that
// order. Judge failures degrade to a chat fallback and are never cached.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/bridge/internal/audit"
	"github.com/whisper/bridge/internal/cache"
	"github.com/whisper/bridge/internal/history"
	"github.com/whisper/bridge/internal/judge"
	"github.com/whisper/bridge/internal/metrics"
	"github.com/whisper/bridge/internal/moderation"
	"github.com/whisper/bridge/internal/route"
	"github.com/whisper/bridge/internal/rules"
)

// Config holds router tuning.
type Config struct {
	// AllowedGroups is the group allow-list. Empty, or containing "*",
	// admits every group.
	AllowedGroups []string
	CacheTTL      time.Duration
	Deadline      time.Duration // per-event routing budget
	HistoryWindow int           // recent messages handed to the judge
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		AllowedGroups: []string{"*"},
		CacheTTL:      180 * time.Second,
		Deadline:      5 * time.Second,
		HistoryWindow: history.DefaultMaxMessages,
	}
}

// Moderator screens text. *moderation.Gate satisfies it.
type Moderator interface {
	Check(ctx context.Context, text string, stage moderation.Stage) moderation.Verdict
}

// Deps are the router's collaborators. Rules is required; everything else
// may be nil. A nil Judge makes every unresolved event a judge_unavailable
// fallback.
type Deps struct {
	Rules     *rules.Engine
	Cache     cache.Cache
	Judge     judge.Judge
	Moderator Moderator
	History   *history.Buffer
	Audit     audit.Log
	Log       *zap.Logger
}

// Router classifies inbound events.
type Router struct {
	cfg      Config
	allowAll bool
	allowed  map[string]struct{}
	deps     Deps
	log      *zap.Logger
}

// New creates a router.
func New(cfg Config, deps Deps) *Router {
	def := DefaultConfig()
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if deps.Rules == nil {
		deps.Rules = rules.Default()
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := &Router{cfg: cfg, deps: deps, log: log.Named("router"), allowed: make(map[string]struct{})}
	for _, g := range cfg.AllowedGroups {
		g = strings.TrimSpace(g)
		switch g {
		case "":
		case "*":
			r.allowAll = true
		default:
			r.allowed[g] = struct{}{}
		}
	}
	if len(r.allowed) == 0 {
		r.allowAll = true
	}
	return r
}

// GroupAllowed reports whether events from groupID are admitted.
func (r *Router) GroupAllowed(groupID string) bool {
	if r.allowAll {
		return true
	}
	_, ok := r.allowed[groupID]
	return ok
}

// Route decides the route for ev and appends the decision to the audit log.
// It always returns a decision; failures of collaborators degrade to a
// fallback or a miss.
func (r *Router) Route(ctx context.Context, ev route.Event) route.Decision {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Deadline)
	defer cancel()

	d := r.decide(ctx, ev)
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}

	metrics.DecisionsTotal.WithLabelValues(string(d.Route), string(d.Source)).Inc()
	r.log.Info("decision",
		zap.String("session", d.SessionID),
		zap.String("text_hash", d.TextHash),
		zap.String("route", string(d.Route)),
		zap.String("source", string(d.Source)),
		zap.Float64("confidence", d.Confidence),
		zap.String("reason", d.Reason))

	if r.deps.Audit != nil {
		if err := r.deps.Audit.Append(context.WithoutCancel(ctx), audit.DecisionRecord(d)); err != nil {
			r.log.Error("audit append failed", zap.String("session", d.SessionID), zap.Error(err))
		}
	}
	if r.deps.History != nil && d.Route != route.Blocked {
		r.deps.History.Add(ev.SessionID, history.Entry{Author: ev.UserID, Text: ev.Text, Ts: ev.Timestamp.Unix()})
	}
	return d
}

func (r *Router) decide(ctx context.Context, ev route.Event) route.Decision {
	normalized := route.Normalize(ev.Text)
	d := route.Decision{
		SessionID: ev.SessionID,
		TextHash:  route.TextHash(normalized),
	}

	if ev.IsGroup() && !r.GroupAllowed(ev.GroupID) {
		d.Route, d.Source, d.Confidence = route.Blocked, route.SourceAdmission, 1.0
		d.Reason = route.ReasonGroupNotWhitelisted
		return d
	}

	if r.deps.Moderator != nil {
		if v := r.deps.Moderator.Check(ctx, ev.Text, moderation.StageInput); !v.Allow {
			d.Route, d.Source, d.Confidence = route.Blocked, route.SourceModeration, 1.0
			d.Reason = route.ReasonBlockedByModeration
			return d
		}
	}

	if cached, ok := r.cacheGet(ctx, ev.SessionID, normalized); ok {
		cached.SessionID = d.SessionID
		cached.TextHash = d.TextHash
		cached.Source = route.SourceCache
		cached.Timestamp = time.Time{}
		return cached
	}

	if res := r.deps.Rules.Classify(normalized); res.Route != route.Unknown {
		d.Route, d.Source, d.Confidence = res.Route, route.SourceRule, res.Confidence
		d.Reason = res.MatchedPattern
		d.MatchedPattern = res.MatchedPattern
		r.cachePut(ctx, ev.SessionID, normalized, d)
		return d
	}

	v, err := r.runJudge(ctx, ev)
	if err != nil {
		d.Route, d.Source, d.Confidence = route.Chat, route.SourceFallback, 0
		d.Reason = route.ReasonJudgeErrorFallback
		if errors.Is(err, judge.ErrUnavailable) {
			d.Reason = route.ReasonJudgeUnavailable
		}
		r.log.Warn("judge failed, falling back to chat",
			zap.String("session", ev.SessionID),
			zap.String("reason", d.Reason),
			zap.Error(err))
		return d
	}

	d.Route, d.Source, d.Confidence = v.Route, route.SourceJudge, v.Confidence
	d.Reason = v.Reasoning
	r.cachePut(ctx, ev.SessionID, normalized, d)
	return d
}

// runJudge calls the judge with the recent-message window. It never waits
// past ctx: a judge that ignores cancellation is abandoned and reported as
// unavailable.
func (r *Router) runJudge(ctx context.Context, ev route.Event) (judge.Verdict, error) {
	if r.deps.Judge == nil {
		return judge.Verdict{}, fmt.Errorf("%w: no judge configured", judge.ErrUnavailable)
	}

	window := ev.Context
	if len(window) == 0 && r.deps.History != nil {
		window = r.deps.History.Texts(ev.SessionID, r.cfg.HistoryWindow)
	}
	if len(window) > r.cfg.HistoryWindow {
		window = window[len(window)-r.cfg.HistoryWindow:]
	}

	type result struct {
		v   judge.Verdict
		err error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := r.deps.Judge.Judge(ctx, ev.Text, window)
		ch <- result{v, err}
	}()

	select {
	case res := <-ch:
		metrics.JudgeLatency.Observe(time.Since(start).Seconds())
		if res.err != nil && ctx.Err() != nil && !errors.Is(res.err, judge.ErrUnavailable) {
			return judge.Verdict{}, fmt.Errorf("%w: %v", judge.ErrUnavailable, res.err)
		}
		return res.v, res.err
	case <-ctx.Done():
		metrics.JudgeLatency.Observe(time.Since(start).Seconds())
		return judge.Verdict{}, fmt.Errorf("%w: routing deadline: %v", judge.ErrUnavailable, ctx.Err())
	}
}

func (r *Router) cacheGet(ctx context.Context, sessionID, normalized string) (route.Decision, bool) {
	if r.deps.Cache == nil {
		return route.Decision{}, false
	}
	d, ok, err := r.deps.Cache.Get(ctx, sessionID, normalized)
	if err != nil {
		r.log.Warn("cache get failed, treating as miss", zap.String("session", sessionID), zap.Error(err))
		return route.Decision{}, false
	}
	return d, ok
}

func (r *Router) cachePut(ctx context.Context, sessionID, normalized string, d route.Decision) {
	if r.deps.Cache == nil {
		return
	}
	if err := r.deps.Cache.Put(ctx, sessionID, normalized, d, r.cfg.CacheTTL); err != nil {
		r.log.Warn("cache put failed", zap.String("session", sessionID), zap.Error(err))
	}
}

// ErrInvalidRoute is returned by Correct for routes outside computer, chat
// and blocked.
var ErrInvalidRoute = errors.New("router: invalid route")

// Correct records a human correction. It only appends to the audit log;
// cached and past decisions are left untouched.
func (r *Router) Correct(ctx context.Context, sessionID, text string, predicted, correct route.Route, note string) error {
	if !predicted.Valid() || !correct.Valid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidRoute, predicted, correct)
	}
	r.log.Info("feedback",
		zap.String("session", sessionID),
		zap.String("pred_route", string(predicted)),
		zap.String("correct_route", string(correct)))
	if r.deps.Audit == nil {
		return nil
	}
	rec := audit.FeedbackRecord(sessionID, audit.Feedback{
		Text:         text,
		PredRoute:    predicted,
		CorrectRoute: correct,
		Note:         note,
	})
	if err := r.deps.Audit.Append(ctx, rec); err != nil {
		return fmt.Errorf("router: record feedback: %w", err)
	}
	return nil
}
