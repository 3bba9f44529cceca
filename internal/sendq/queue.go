// Package sendq is the bridge's outbound send queue. Producers enqueue
// without blocking; a single dispatch worker drains items in arrival order
// under a global rate limit and a per-session cooldown, optionally screens
// each text with output moderation, and hands it to the configured sender.
//
// Ordering is guaranteed per session, not globally: an item whose session
// is cooling down moves behind later items of other sessions, taking its
// queued siblings with it.
package sendq

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/bridge/internal/audit"
	"github.com/whisper/bridge/internal/metrics"
	"github.com/whisper/bridge/internal/moderation"
	"github.com/whisper/bridge/internal/route"
	"github.com/whisper/bridge/internal/sender"
)

var (
	// ErrQueueFull is returned by Enqueue when the total or per-session bound
	// is reached.
	ErrQueueFull = errors.New("sendq: queue full")
	// ErrNotFound is returned by Status for unknown or expired item ids.
	ErrNotFound = errors.New("sendq: item not found")
	// ErrEmptyText is returned by Enqueue for blank text.
	ErrEmptyText = errors.New("sendq: empty text")
)

// Status is a send item's lifecycle state. It only moves forward from
// PENDING to SENT or FAILED.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Item is one outbound message and its delivery state.
type Item struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	Meta      sender.Meta `json:"meta"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
}

// Config holds queue limits.
type Config struct {
	GlobalRPS          float64       // max sends per second across all sessions
	SessionCooldown    time.Duration // min spacing between sends to one session
	MaxQueue           int           // total pending bound
	MaxQueuePerSession int           // pending bound per session
	MaxAttempts        int           // attempts per item, including the first
	Retention          time.Duration // how long terminal items stay queryable
	ModerateOutput     bool          // screen each text before sending
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		GlobalRPS:          2.0,
		SessionCooldown:    1200 * time.Millisecond,
		MaxQueue:           1000,
		MaxQueuePerSession: 30,
		MaxAttempts:        1,
		Retention:          10 * time.Minute,
	}
}

func (c Config) interval() time.Duration {
	if c.GlobalRPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.GlobalRPS)
}

// OutputGate screens text before it is sent. *moderation.Gate satisfies it.
type OutputGate interface {
	Check(ctx context.Context, text string, stage moderation.Stage) moderation.Verdict
}

// Stats is a snapshot of queue occupancy and configuration.
type Stats struct {
	Queued             int            `json:"queued"`
	PerSession         map[string]int `json:"per_session"`
	Tracked            int            `json:"tracked"`
	Sent               int64          `json:"sent"`
	Failed             int64          `json:"failed"`
	GlobalRPS          float64        `json:"global_rps"`
	SessionCooldownMs  int64          `json:"session_cooldown_ms"`
	MaxQueue           int            `json:"max_queue"`
	MaxQueuePerSession int            `json:"max_queue_per_session"`
	MaxAttempts        int            `json:"max_attempts"`
	Sender             string         `json:"sender"`
}

type doneEntry struct {
	id string
	at time.Time
}

// Queue is the send queue. Enqueue, Status and Stats are safe for
// concurrent use; Run must be called exactly once.
type Queue struct {
	cfg    Config
	sender sender.Sender
	gate   OutputGate
	audit  audit.Log
	log    *zap.Logger

	mu         sync.Mutex
	pending    []*Item
	items      map[string]*Item
	perSession map[string]int
	done       []doneEntry
	sent       int64
	failed     int64

	// Rate state, touched only by the dispatch worker.
	globalLast  time.Time
	sessionLast map[string]time.Time

	notify chan struct{}
}

// New creates a queue. gate and auditLog may be nil.
func New(cfg Config, s sender.Sender, gate OutputGate, auditLog audit.Log, log *zap.Logger) *Queue {
	def := DefaultConfig()
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = def.MaxQueue
	}
	if cfg.MaxQueuePerSession <= 0 {
		cfg.MaxQueuePerSession = def.MaxQueuePerSession
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		cfg:         cfg,
		sender:      s,
		gate:        gate,
		audit:       auditLog,
		log:         log.Named("sendq"),
		items:       make(map[string]*Item),
		perSession:  make(map[string]int),
		sessionLast: make(map[string]time.Time),
		notify:      make(chan struct{}, 1),
	}
}

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// Enqueue adds text for delivery and returns the item id. It never blocks
// on the worker.
func (q *Queue) Enqueue(ctx context.Context, text string, meta sender.Meta) (string, error) {
	if text == "" {
		return "", ErrEmptyText
	}

	now := time.Now()
	item := &Item{
		ID:        uuid.NewString(),
		Text:      text,
		Meta:      meta,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	if len(q.pending) >= q.cfg.MaxQueue || q.perSession[meta.SessionID] >= q.cfg.MaxQueuePerSession {
		q.mu.Unlock()
		q.log.Warn("queue full",
			zap.String("session", meta.SessionID),
			zap.Int("queued", len(q.pending)))
		return "", ErrQueueFull
	}
	q.pending = append(q.pending, item)
	q.items[item.ID] = item
	q.perSession[meta.SessionID]++
	depth := len(q.pending)
	snapshot := *item
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	q.record(ctx, snapshot)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return item.ID, nil
}

// Status returns a copy of the item.
func (q *Queue) Status(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return *item, nil
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	per := make(map[string]int, len(q.perSession))
	for s, n := range q.perSession {
		per[s] = n
	}
	name := ""
	if q.sender != nil {
		name = q.sender.Name()
	}
	return Stats{
		Queued:             len(q.pending),
		PerSession:         per,
		Tracked:            len(q.items),
		Sent:               q.sent,
		Failed:             q.failed,
		GlobalRPS:          q.cfg.GlobalRPS,
		SessionCooldownMs:  q.cfg.SessionCooldown.Milliseconds(),
		MaxQueue:           q.cfg.MaxQueue,
		MaxQueuePerSession: q.cfg.MaxQueuePerSession,
		MaxAttempts:        q.cfg.MaxAttempts,
		Sender:             name,
	}
}

// Run is the dispatch worker. It returns ctx.Err() once ctx is done; an
// attempt already in progress runs to completion first.
func (q *Queue) Run(ctx context.Context) error {
	q.log.Info("dispatch worker started",
		zap.Float64("global_rps", q.cfg.GlobalRPS),
		zap.Duration("session_cooldown", q.cfg.SessionCooldown),
		zap.Int("max_attempts", q.cfg.MaxAttempts))
	defer q.log.Info("dispatch worker stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, wait := q.next(time.Now())
		if item == nil {
			if !q.idle(ctx, wait) {
				return ctx.Err()
			}
			continue
		}
		q.attempt(ctx, item)
	}
}

// next pops the item to attempt now. When nothing can go yet it returns nil
// and how long to wait; a zero wait means the queue is empty.
func (q *Queue) next(now time.Time) (*Item, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, 0
	}

	if interval := q.cfg.interval(); !q.globalLast.IsZero() {
		if wait := q.globalLast.Add(interval).Sub(now); wait > 0 {
			return nil, wait
		}
	}

	// Rotate cooling sessions behind the rest. Each rotation moves a whole
	// session, so after one pass per distinct session every head is cooling.
	var earliest time.Duration
	for rotated := make(map[string]bool); ; {
		head := q.pending[0]
		session := head.Meta.SessionID
		remaining := q.cooldownLeft(session, now)
		if remaining <= 0 {
			break
		}
		if rotated[session] {
			return nil, earliest
		}
		rotated[session] = true
		if earliest == 0 || remaining < earliest {
			earliest = remaining
		}
		q.rotateLocked(session)
	}

	item := q.pending[0]
	q.pending = q.pending[1:]
	q.perSession[item.Meta.SessionID]--
	if q.perSession[item.Meta.SessionID] <= 0 {
		delete(q.perSession, item.Meta.SessionID)
	}
	item.Attempts++
	item.UpdatedAt = now
	metrics.QueueDepth.Set(float64(len(q.pending)))
	return item, 0
}

func (q *Queue) cooldownLeft(session string, now time.Time) time.Duration {
	last, ok := q.sessionLast[session]
	if !ok || q.cfg.SessionCooldown <= 0 {
		return 0
	}
	return last.Add(q.cfg.SessionCooldown).Sub(now)
}

// rotateLocked moves every pending item of session to the tail, keeping
// their relative order.
func (q *Queue) rotateLocked(session string) {
	others := make([]*Item, 0, len(q.pending))
	var same []*Item
	for _, it := range q.pending {
		if it.Meta.SessionID == session {
			same = append(same, it)
		} else {
			others = append(others, it)
		}
	}
	q.pending = append(others, same...)
}

// requeueLocked puts item back ahead of its queued siblings and moves the
// session group to the tail.
func (q *Queue) requeueLocked(item *Item) {
	session := item.Meta.SessionID
	q.pending = append([]*Item{item}, q.pending...)
	q.perSession[session]++
	q.rotateLocked(session)
	metrics.QueueDepth.Set(float64(len(q.pending)))
}

// idle waits for d (or indefinitely when d is zero), a new item, or ctx.
// It reports false when ctx is done.
func (q *Queue) idle(ctx context.Context, d time.Duration) bool {
	var timer <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-q.notify:
	case <-timer:
	}
	return true
}

// attempt runs moderation and the sender for a dequeued item. It is not
// cancelled by ctx.
func (q *Queue) attempt(ctx context.Context, item *Item) {
	ctx = context.WithoutCancel(ctx)

	q.mu.Lock()
	text, meta, id, attempts := item.Text, item.Meta, item.ID, item.Attempts
	q.mu.Unlock()

	msg := sender.Message{ID: id, Text: text, Meta: meta}
	if q.cfg.ModerateOutput && q.gate != nil {
		v := q.gate.Check(ctx, text, moderation.StageOutput)
		if !v.Allow {
			q.log.Info("send blocked by moderation",
				zap.String("id", id),
				zap.String("session", meta.SessionID),
				zap.String("reason", v.Reason))
			q.finish(ctx, item, StatusFailed, route.ReasonBlockedByModeration)
			return
		}
		msg.Moderation = &sender.ModerationInfo{Allow: v.Allow, Provider: v.Provider, Reason: v.Reason}
	}

	err := q.sender.Send(ctx, msg)
	now := time.Now()
	if err == nil {
		q.globalLast = now
		q.sessionLast[meta.SessionID] = now
		q.finish(ctx, item, StatusSent, "")
		return
	}

	kind := sender.ErrorKind(err)
	if sender.Retryable(err) && attempts < q.cfg.MaxAttempts {
		q.log.Warn("send failed, requeued",
			zap.String("id", id),
			zap.String("session", meta.SessionID),
			zap.Int("attempt", attempts),
			zap.Error(err))
		q.mu.Lock()
		item.LastError = string(kind)
		item.UpdatedAt = now
		q.requeueLocked(item)
		snapshot := *item
		q.mu.Unlock()
		metrics.SendsTotal.WithLabelValues("retried").Inc()
		q.record(ctx, snapshot)
		return
	}

	q.log.Warn("send failed",
		zap.String("id", id),
		zap.String("session", meta.SessionID),
		zap.Int("attempt", attempts),
		zap.Error(err))
	q.finish(ctx, item, StatusFailed, string(kind))
}

// finish moves item to a terminal status, records the transition and
// prunes expired terminal items.
func (q *Queue) finish(ctx context.Context, item *Item, status Status, lastError string) {
	now := time.Now()

	q.mu.Lock()
	item.Status = status
	item.LastError = lastError
	item.UpdatedAt = now
	if status == StatusSent {
		q.sent++
	} else {
		q.failed++
	}
	q.done = append(q.done, doneEntry{id: item.ID, at: now})
	q.pruneLocked(now)
	snapshot := *item
	q.mu.Unlock()

	metrics.SendsTotal.WithLabelValues(strings.ToLower(string(status))).Inc()
	q.record(ctx, snapshot)
}

func (q *Queue) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(q.done) && now.Sub(q.done[cut].at) > q.cfg.Retention {
		delete(q.items, q.done[cut].id)
		cut++
	}
	if cut > 0 {
		q.done = append(q.done[:0], q.done[cut:]...)
	}
}

func (q *Queue) record(ctx context.Context, item Item) {
	if q.audit == nil {
		return
	}
	rec := audit.SendRecord(item.Meta.SessionID, audit.SendEvent{
		ItemID:    item.ID,
		Status:    string(item.Status),
		Attempts:  item.Attempts,
		LastError: item.LastError,
		Route:     item.Meta.Route,
	})
	if err := q.audit.Append(ctx, rec); err != nil {
		q.log.Error("audit append failed", zap.String("id", item.ID), zap.Error(err))
	}
}
