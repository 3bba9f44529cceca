// Package api exposes the bridge over HTTP: event ingestion, direct sends,
// send status and queue stats, routing feedback, the audit tail, health and
// Prometheus metrics. Every response body is JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/bridge/internal/audit"
	"github.com/whisper/bridge/internal/metrics"
	"github.com/whisper/bridge/internal/pipeline"
	"github.com/whisper/bridge/internal/protocol"
	"github.com/whisper/bridge/internal/ratelimit"
	"github.com/whisper/bridge/internal/route"
	"github.com/whisper/bridge/internal/router"
	"github.com/whisper/bridge/internal/sender"
	"github.com/whisper/bridge/internal/sendq"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Service is the pipeline surface the API drives. *pipeline.Service
// satisfies it.
type Service interface {
	Handle(ctx context.Context, ev route.Event) (pipeline.Result, error)
	Send(ctx context.Context, text string, meta sender.Meta) (string, error)
	Correct(ctx context.Context, sessionID, text string, predicted, correct route.Route, note string) error
}

// Queue exposes send item state. *sendq.Queue satisfies it.
type Queue interface {
	Status(id string) (sendq.Item, error)
	Stats() sendq.Stats
}

// Deps are the server's collaborators. Limiter may be nil to disable rate
// limiting.
type Deps struct {
	Service Service
	Queue   Queue
	Audit   audit.Log
	Limiter ratelimit.Allower
	Log     *zap.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	deps      Deps
	log       *zap.Logger
	startedAt time.Time
}

// New creates a server.
func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{deps: deps, log: log.Named("api"), startedAt: time.Now()}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/events", s.limit("events", ratelimit.RuleEvents, s.handleEvent))
	mux.Handle("POST /v1/send", s.limit("send", ratelimit.RuleSend, s.handleSend))
	mux.HandleFunc("GET /v1/send", s.handleStats)
	mux.HandleFunc("GET /v1/send/{id}", s.handleStatus)
	mux.Handle("POST /v1/feedback", s.limit("feedback", ratelimit.RuleFeedback, s.handleFeedback))
	mux.HandleFunc("GET /v1/audit", s.handleAudit)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// limit wraps h with the rate limiter, keyed by client address. Limiter
// errors fail open.
func (s *Server) limit(action string, rule ratelimit.Rule, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter != nil {
			allowed, err := s.deps.Limiter.Allow(r.Context(), clientIP(r), rule)
			if err != nil {
				s.log.Warn("rate limiter error", zap.String("action", action), zap.Error(err))
			}
			if !allowed {
				metrics.RateLimited.WithLabelValues(action).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(rule.Window.Seconds())))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
		}
		h(w, r)
	})
}

type eventResponse struct {
	Decision route.Decision `json:"decision"`
	ItemID   string         `json:"item_id,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var msg protocol.EventMsg
	if !decode(w, r, &msg) {
		return
	}
	if msg.SessionID == "" || msg.Text == "" {
		writeError(w, http.StatusBadRequest, protocol.CodeBadRequest, "session_id and text are required")
		return
	}

	res, err := s.deps.Service.Handle(r.Context(), msg.Event())
	resp := eventResponse{Decision: res.Decision, ItemID: res.ItemID}
	if err != nil {
		resp.Error = protocol.CodeInternal
		if errors.Is(err, sendq.ErrQueueFull) {
			resp.Error = protocol.CodeQueueFull
		}
		s.log.Warn("event handled with error", zap.String("session", msg.SessionID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, resp)
}

type sendRequest struct {
	Text string      `json:"text"`
	Meta sender.Meta `json:"meta"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := s.deps.Service.Send(r.Context(), req.Text, req.Meta)
	switch {
	case errors.Is(err, sendq.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, protocol.CodeQueueFull, "send queue is full")
		return
	case errors.Is(err, sendq.ErrEmptyText):
		writeError(w, http.StatusBadRequest, protocol.CodeBadRequest, "text is required")
		return
	case err != nil:
		s.log.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, protocol.CodeInternal, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"item_id": id})
}

type statusResponse struct {
	ID        string       `json:"id"`
	Status    sendq.Status `json:"status"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Meta      sender.Meta  `json:"meta"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Queue.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown item id")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ID:        item.ID,
		Status:    item.Status,
		Attempts:  item.Attempts,
		LastError: item.LastError,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
		Meta:      item.Meta,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.Stats())
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var msg protocol.FeedbackMsg
	if !decode(w, r, &msg) {
		return
	}
	if msg.SessionID == "" {
		writeError(w, http.StatusBadRequest, protocol.CodeBadRequest, "session_id is required")
		return
	}

	err := s.deps.Service.Correct(r.Context(), msg.SessionID, msg.Text,
		route.Route(msg.PredRoute), route.Route(msg.CorrectRoute), msg.Note)
	switch {
	case errors.Is(err, router.ErrInvalidRoute):
		writeError(w, http.StatusBadRequest, protocol.CodeBadRequest, "routes must be computer, chat or blocked")
		return
	case err != nil:
		s.log.Error("feedback failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, protocol.CodeInternal, "feedback not recorded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeJSON(w, http.StatusOK, []audit.Record{})
		return
	}
	limit := audit.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, protocol.CodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	recs, err := s.deps.Audit.List(r.Context(), limit)
	if err != nil {
		s.log.Error("audit list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, protocol.CodeInternal, "audit log unavailable")
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleHealth reports liveness with the queue depth and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Status string `json:"status"`
		Queued int    `json:"queued"`
		Sender string `json:"sender"`
		Uptime string `json:"uptime"`
	}{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.deps.Queue != nil {
		st := s.deps.Queue.Stats()
		resp.Queued = st.Queued
		resp.Sender = st.Sender
	}
	writeJSON(w, http.StatusOK, resp)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, protocol.CodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
