package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/whisper/bridge/internal/audit"
	"github.com/whisper/bridge/internal/cache"
	"github.com/whisper/bridge/internal/config"
	"github.com/whisper/bridge/internal/history"
	"github.com/whisper/bridge/internal/judge"
	"github.com/whisper/bridge/internal/messaging"
	"github.com/whisper/bridge/internal/moderation"
	"github.com/whisper/bridge/internal/ratelimit"
	"github.com/whisper/bridge/internal/router"
	"github.com/whisper/bridge/internal/sender"
	"github.com/whisper/bridge/internal/sendq"
)

// cacheEntries bounds the in-process decision cache.
const cacheEntries = 10000

// components are the long-lived pieces built from configuration. close
// releases them in reverse order of construction.
type components struct {
	redis   *redis.Client
	nats    *messaging.NATSClient
	audit   audit.Log
	gate    *moderation.Gate
	router  *router.Router
	queue   *sendq.Queue
	limiter ratelimit.Allower

	closers []func()
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// build wires every component. Redis, NATS and PostgreSQL are only dialed
// when configured; without them the bridge runs fully in-process.
func build(ctx context.Context, cfg config.Config, log *zap.Logger) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		c.redis = rdb
		c.closers = append(c.closers, func() { _ = rdb.Close() })
	}

	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		nc, err := messaging.NewNATSClient(natsConfig, log)
		if err != nil {
			return nil, err
		}
		c.nats = nc
		c.closers = append(c.closers, nc.Close)
	}

	c.audit, err = openAudit(ctx, cfg.Audit, log)
	if err != nil {
		return nil, err
	}
	if cl, ok := c.audit.(interface{ Close() error }); ok {
		c.closers = append(c.closers, func() { _ = cl.Close() })
	}

	c.gate, err = buildGate(cfg.Moderation, c.nats, log)
	if err != nil {
		return nil, err
	}

	engine, err := cfg.LoadRules()
	if err != nil {
		return nil, err
	}
	j, err := buildJudge(ctx, cfg.Judge)
	if err != nil {
		return nil, err
	}

	var dc cache.Cache = cache.NewMemory(cacheEntries)
	if c.redis != nil {
		dc = cache.NewRedis(c.redis)
	}

	c.router = router.New(router.Config{
		AllowedGroups: cfg.Router.AllowedGroups,
		CacheTTL:      cfg.Router.CacheTTL,
		Deadline:      cfg.Router.Deadline,
		HistoryWindow: cfg.Router.HistoryWindow,
	}, router.Deps{
		Rules:     engine,
		Cache:     dc,
		Judge:     j,
		Moderator: c.gate,
		History:   history.NewBuffer(cfg.Router.HistoryWindow),
		Audit:     c.audit,
		Log:       log,
	})

	var pub sender.Publisher
	if c.nats != nil {
		pub = c.nats
	}
	s, err := sender.New(sender.Config{
		Kind:     cfg.Sender.Kind,
		Endpoint: cfg.Sender.Endpoint,
		Token:    cfg.Sender.Token,
		Timeout:  cfg.Sender.Timeout,
	}, pub, log)
	if err != nil {
		return nil, err
	}
	if cl, ok := s.(interface{ Close() error }); ok {
		c.closers = append(c.closers, func() { _ = cl.Close() })
	}

	c.queue = sendq.New(sendq.Config{
		GlobalRPS:          cfg.SendQ.GlobalRPS,
		SessionCooldown:    cfg.SendQ.SessionCooldown,
		MaxQueue:           cfg.SendQ.MaxQueue,
		MaxQueuePerSession: cfg.SendQ.MaxQueuePerSession,
		MaxAttempts:        cfg.SendQ.MaxAttempts,
		Retention:          cfg.SendQ.Retention,
		ModerateOutput:     cfg.Moderation.Enabled && cfg.Moderation.CheckOutput,
	}, s, c.gate, c.audit, log)

	if cfg.RateLimit.Enabled {
		if c.redis != nil {
			c.limiter = ratelimit.NewLimiter(c.redis, log)
		} else {
			c.limiter = ratelimit.NewLocal(ratelimit.DefaultLocalKeys)
		}
	}

	return c, nil
}

// openAudit picks PostgreSQL when a database URL is configured, otherwise
// the JSONL file.
func openAudit(ctx context.Context, cfg config.AuditConfig, log *zap.Logger) (audit.Log, error) {
	if cfg.DatabaseURL != "" {
		db, err := audit.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := audit.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("audit log on postgres")
		return audit.NewPostgres(db), nil
	}
	f, err := audit.OpenFile(cfg.Path)
	if err != nil {
		return nil, err
	}
	log.Info("audit log on file", zap.String("path", cfg.Path))
	return f, nil
}

func buildGate(cfg config.ModerationConfig, nc *messaging.NATSClient, log *zap.Logger) (*moderation.Gate, error) {
	policy := moderation.FailOpen
	if cfg.FailClosed {
		policy = moderation.FailClosed
	}
	if !cfg.Enabled {
		return moderation.NewGate(nil, policy, cfg.Timeout, log), nil
	}

	var provider moderation.Provider
	switch cfg.Provider {
	case "remote":
		provider = moderation.NewRemote(nc, messaging.SubjectModeration)
	default:
		f, err := moderation.LoadFilter(cfg.KeywordsFile, cfg.SpamChecks)
		if err != nil {
			return nil, err
		}
		provider = moderation.NewLocal(f)
	}
	return moderation.NewGate(provider, policy, cfg.Timeout, log), nil
}

// buildJudge returns nil when no provider is configured; the router then
// falls back to chat with judge_unavailable.
func buildJudge(ctx context.Context, cfg config.JudgeConfig) (judge.Judge, error) {
	switch cfg.Provider {
	case "gemini":
		return judge.NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.Timeout)
	case "ollama":
		return judge.NewOllama(cfg.OllamaURL, cfg.Model, cfg.Timeout), nil
	default:
		return nil, nil
	}
}
