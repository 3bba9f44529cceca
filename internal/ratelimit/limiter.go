// Package ratelimit guards the bridge's HTTP endpoints per client address.
//
// Limiter keeps a fixed-window counter in Redis so replicas behind one load
// balancer share a budget. Local is the in-process fallback used when no
// Redis URL is configured.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule is one endpoint's budget: at most Limit calls per Window for each
// client, counted under Key+client.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	RuleEvents   = Rule{Key: "bridge:rl:events:", Limit: 120, Window: time.Minute}
	RuleSend     = Rule{Key: "bridge:rl:send:", Limit: 60, Window: time.Minute}
	RuleFeedback = Rule{Key: "bridge:rl:feedback:", Limit: 30, Window: time.Minute}
)

// Allower is what the API middleware needs from a limiter.
type Allower interface {
	Allow(ctx context.Context, client string, rule Rule) (bool, error)
}

// Usage is a client's position inside the current window.
type Usage struct {
	Count   int
	ResetIn time.Duration
}

// hitScript bumps the window counter and starts the window on the first hit
// in one round trip, so a crash between the two commands cannot leave a
// counter without a TTL.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// Limiter counts API calls in Redis.
type Limiter struct {
	rdb redis.Cmdable
	log *zap.Logger
}

func NewLimiter(rdb redis.Cmdable, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{rdb: rdb, log: log.Named("ratelimit")}
}

// Hit records one call by client against rule and returns the usage after it.
func (l *Limiter) Hit(ctx context.Context, client string, rule Rule) (Usage, error) {
	vals, err := hitScript.Run(ctx, l.rdb, []string{rule.Key + client}, rule.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Usage{}, err
	}
	if len(vals) != 2 {
		return Usage{}, errors.New("ratelimit: unexpected script reply")
	}
	return Usage{Count: int(vals[0]), ResetIn: time.Duration(vals[1]) * time.Millisecond}, nil
}

// Allow reports whether client is still under rule's limit. A Redis failure
// lets the call through and is returned for the caller to log.
func (l *Limiter) Allow(ctx context.Context, client string, rule Rule) (bool, error) {
	u, err := l.Hit(ctx, client, rule)
	if err != nil {
		l.log.Warn("counter unavailable, allowing",
			zap.String("rule", rule.Key), zap.String("client", client), zap.Error(err))
		return true, err
	}
	return u.Count <= rule.Limit, nil
}

// Remaining is how many calls client has left in the current window. An
// unseen client, or an unreachable Redis, gets the full limit.
func (l *Limiter) Remaining(ctx context.Context, client string, rule Rule) (int, error) {
	n, err := l.rdb.Get(ctx, rule.Key+client).Int()
	switch {
	case errors.Is(err, redis.Nil):
		return rule.Limit, nil
	case err != nil:
		return rule.Limit, err
	}
	return max(rule.Limit-n, 0), nil
}
