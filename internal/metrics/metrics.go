// Package metrics provides Prometheus instrumentation for the bridge. It
// exposes counters for routing decisions, moderation verdicts and send
// outcomes, a gauge for send queue depth, and a histogram for judge latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts routing decisions by route and source.
	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_decisions_total",
		Help: "Total number of routing decisions",
	}, []string{"route", "source"})

	// ModerationVerdicts counts gate outcomes per stage.
	ModerationVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_moderation_verdicts_total",
		Help: "Total number of moderation verdicts",
	}, []string{"stage", "outcome"}) // outcome = "allow", "deny", "error"

	// SendsTotal counts send attempts by resulting status.
	SendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_sends_total",
		Help: "Total number of send attempts",
	}, []string{"status"}) // status = "sent", "failed", "retried"

	// QueueDepth tracks the number of items waiting in the send queue.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_send_queue_depth",
		Help: "Current number of queued outbound messages",
	})

	// JudgeLatency records semantic judge call latency in seconds.
	JudgeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_judge_latency_seconds",
		Help:    "Semantic judge call latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5},
	})

	// RateLimited counts API requests rejected by the rate limiter.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_api_rate_limited_total",
		Help: "Total number of API requests rejected by rate limiting",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		ModerationVerdicts,
		SendsTotal,
		QueueDepth,
		JudgeLatency,
		RateLimited,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
