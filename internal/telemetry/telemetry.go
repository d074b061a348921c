package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the solving pipeline, exposed on /metrics.
var (
	JobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizsolver_jobs_started_total",
		Help: "Solving jobs accepted by the server.",
	})

	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizsolver_rounds_total",
		Help: "Question rounds by outcome.",
	}, []string{"outcome"})

	RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quizsolver_round_duration_seconds",
		Help:    "Wall time spent solving one question.",
		Buckets: prometheus.LinearBuckets(15, 15, 12),
	})

	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizsolver_tool_executions_total",
		Help: "Tool executions by tool name and status.",
	}, []string{"tool", "status"})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizsolver_submissions_total",
		Help: "Answer submissions by verdict.",
	}, []string{"verdict"})
)

// Verdict labels for Submissions.
const (
	VerdictCorrect   = "correct"
	VerdictIncorrect = "incorrect"
	VerdictFailed    = "failed"
)
