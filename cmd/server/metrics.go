package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brunobiangulo/examparse"
	"github.com/brunobiangulo/examparse/store"
)

var (
	// parsesTotal counts parses by format and outcome
	parsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examparse_parses_total",
		Help: "Total document parses by format and status",
	}, []string{"format", "status"})

	questionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "examparse_questions_total",
		Help: "Total questions finalized",
	})

	// anomaliesTotal counts question and document anomalies by type
	anomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examparse_anomalies_total",
		Help: "Total anomalies recorded by type",
	}, []string{"type"})

	parseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "examparse_parse_duration_seconds",
		Help:    "Synchronous parse duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examparse_jobs_total",
		Help: "Total background jobs by final status",
	}, []string{"status"})
)

// recordResult updates the parse metrics from a finished result.
func recordResult(res *examparse.Result, start time.Time) {
	parsesTotal.WithLabelValues(res.Exam.Format, "ok").Inc()
	if !start.IsZero() {
		parseDuration.Observe(time.Since(start).Seconds())
	}
	questionsTotal.Add(float64(len(res.Questions)))
	for _, q := range res.Questions {
		for _, a := range q.Anomalies {
			anomaliesTotal.WithLabelValues(string(a.Type)).Inc()
		}
	}
	for _, a := range res.Validation.DocumentAnomalies {
		anomaliesTotal.WithLabelValues(string(a.Type)).Inc()
	}
}

func recordFailure(format string) {
	parsesTotal.WithLabelValues(format, "error").Inc()
}

// recordJob is the job runner completion hook.
func recordJob(job *store.Job, res *examparse.Result) {
	jobsTotal.WithLabelValues(job.Status).Inc()
	recordResult(res, time.Time{})
}
