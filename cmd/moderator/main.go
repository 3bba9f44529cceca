// Command moderator answers bridge moderation requests over NATS using the
// local keyword filter and spam heuristics.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/whisper/bridge/internal/config"
	"github.com/whisper/bridge/internal/messaging"
	"github.com/whisper/bridge/internal/moderation"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.NATSURL == "" {
		cfg.NATSURL = messaging.DefaultNATSConfig().URL
	}

	zc := zap.NewProductionConfig()
	if zc.Level, err = zap.ParseAtomicLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	log, err := zc.Build()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("moderator")

	filter, err := moderation.LoadFilter(cfg.Moderation.KeywordsFile, cfg.Moderation.SpamChecks)
	if err != nil {
		return err
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "bridge-moderator"
	natsClient, err := messaging.NewNATSClient(natsConfig, log)
	if err != nil {
		return err
	}
	defer natsClient.Close()

	if err := natsClient.RespondModeration(handler(filter, log)); err != nil {
		return fmt.Errorf("subscribe to moderation checks: %w", err)
	}

	log.Info("moderation service running",
		zap.String("nats_url", natsConfig.URL),
		zap.Int("terms", filter.Len()),
		zap.Bool("spam_checks", cfg.Moderation.SpamChecks))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))
	return nil
}

// handler answers one CheckRequest. Undecodable requests get a nil reply,
// which the bridge treats as a provider error.
func handler(filter *moderation.Filter, log *zap.Logger) func([]byte) []byte {
	return func(data []byte) []byte {
		var req moderation.CheckRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Warn("failed to unmarshal request", zap.Error(err))
			return nil
		}

		resp := moderation.Respond(filter, req)
		if resp.Action != moderation.ActionPass {
			log.Info("flagged",
				zap.String("session", req.SessionID),
				zap.String("stage", string(req.Stage)),
				zap.String("reason", resp.Reason),
				zap.String("term", resp.Term))
		}

		out, err := json.Marshal(resp)
		if err != nil {
			log.Error("failed to marshal response", zap.Error(err))
			return nil
		}
		return out
	}
}
