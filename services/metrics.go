package services

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mockprep_llm_requests_total",
		Help: "Language model requests by operation and outcome",
	}, []string{"operation", "outcome"})

	llmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mockprep_llm_request_duration_seconds",
		Help:    "Language model request latency including retries",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	}, []string{"operation"})

	questionsGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mockprep_questions_generated_total",
		Help: "Interview questions returned to clients",
	})

	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mockprep_evaluations_total",
		Help: "Answer evaluations, split by whether the heuristic fallback was used",
	}, []string{"fallback"})

	resumeUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mockprep_resume_uploads_total",
		Help: "Accepted resume uploads by content type",
	}, []string{"content_type"})

	liveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mockprep_live_sessions",
		Help: "Open live interview websocket connections",
	})
)

func observeLLMRequest(operation string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	llmRequestsTotal.WithLabelValues(operation, outcome).Inc()
	llmRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func observeEvaluation(fallback bool) {
	evaluationsTotal.WithLabelValues(strconv.FormatBool(fallback)).Inc()
}
