package main

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whisper/bridge/internal/audit"
	"github.com/whisper/bridge/internal/cache"
	"github.com/whisper/bridge/internal/history"
	"github.com/whisper/bridge/internal/route"
	"github.com/whisper/bridge/internal/router"
)

type classifyOptions struct {
	sessionID string
	groupID   string
	userID    string
}

// newClassifyCmd routes one message through rules, moderation and the judge
// without queueing a reply, and prints the decision.
func newClassifyCmd(root *rootOptions) *cobra.Command {
	opts := &classifyOptions{}
	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Route a single message and print the decision",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			engine, err := cfg.LoadRules()
			if err != nil {
				return err
			}
			j, err := buildJudge(ctx, cfg.Judge)
			if err != nil {
				return err
			}
			modCfg := cfg.Moderation
			if modCfg.Provider == "remote" {
				log.Warn("remote moderation is not available to classify; moderation disabled")
				modCfg.Enabled = false
			}
			gate, err := buildGate(modCfg, nil, log)
			if err != nil {
				return err
			}

			r := router.New(router.Config{
				AllowedGroups: cfg.Router.AllowedGroups,
				CacheTTL:      cfg.Router.CacheTTL,
				Deadline:      cfg.Router.Deadline,
				HistoryWindow: cfg.Router.HistoryWindow,
			}, router.Deps{
				Rules:     engine,
				Cache:     cache.NewMemory(0),
				Judge:     j,
				Moderator: gate,
				History:   history.NewBuffer(cfg.Router.HistoryWindow),
				Audit:     audit.NewMemory(),
				Log:       zap.NewNop(),
			})

			d := r.Route(ctx, route.Event{
				SessionID: opts.session(),
				Text:      strings.Join(args, " "),
				GroupID:   opts.groupID,
				UserID:    opts.userID,
				Timestamp: time.Now(),
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session id (default derived from --group/--user)")
	cmd.Flags().StringVar(&opts.groupID, "group", "", "group id")
	cmd.Flags().StringVar(&opts.userID, "user", "cli", "user id")
	return cmd
}

func (o *classifyOptions) session() string {
	switch {
	case o.sessionID != "":
		return o.sessionID
	case o.groupID != "":
		return "group:" + o.groupID
	default:
		return "private:" + o.userID
	}
}
