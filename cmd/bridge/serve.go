package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/whisper/bridge/internal/api"
	"github.com/whisper/bridge/internal/pipeline"
	"github.com/whisper/bridge/internal/protocol"
	"github.com/whisper/bridge/internal/route"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the NATS event consumer and the send queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer c.close()

			svc := pipeline.New(c.router, c.queue, nil, log)

			if c.nats != nil {
				if err := c.nats.SubscribeEvents(inboundHandler(ctx, svc, log)); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr: cfg.ListenAddr,
				Handler: api.New(api.Deps{
					Service: svc,
					Queue:   c.queue,
					Audit:   c.audit,
					Limiter: c.limiter,
					Log:     log,
				}).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			log.Info("bridge starting",
				zap.String("listen_addr", cfg.ListenAddr),
				zap.String("sender", cfg.Sender.Kind),
				zap.String("judge", cfg.Judge.Provider),
				zap.Bool("moderation", cfg.Moderation.Enabled),
				zap.Bool("redis", c.redis != nil),
				zap.Bool("nats", c.nats != nil),
				zap.Strings("allowed_groups", cfg.Router.AllowedGroups))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := c.queue.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutCtx)
			})
			return g.Wait()
		},
	}
}

// inboundHandler decodes messages from the events subject and feeds them to
// the pipeline. Malformed messages are logged and dropped.
func inboundHandler(ctx context.Context, svc *pipeline.Service, log *zap.Logger) func([]byte) {
	log = log.Named("inbound")
	return func(data []byte) {
		msgType, msg, err := protocol.ParseInboundMessage(data)
		if err != nil {
			log.Warn("dropping malformed message", zap.String("type", msgType), zap.Error(err))
			return
		}

		switch m := msg.(type) {
		case protocol.EventMsg:
			res, err := svc.Handle(ctx, m.Event())
			if err != nil {
				log.Warn("event handled with error",
					zap.String("session", m.SessionID),
					zap.String("route", string(res.Decision.Route)),
					zap.Error(err))
			}
		case protocol.SendMsg:
			if _, err := svc.Send(ctx, m.Text, m.Meta()); err != nil {
				log.Warn("send rejected", zap.String("session", m.SessionID), zap.Error(err))
			}
		case protocol.FeedbackMsg:
			err := svc.Correct(ctx, m.SessionID, m.Text,
				route.Route(m.PredRoute), route.Route(m.CorrectRoute), m.Note)
			if err != nil {
				log.Warn("feedback rejected", zap.String("session", m.SessionID), zap.Error(err))
			}
		}
	}
}
