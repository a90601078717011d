package controllers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multimediabot_upload_runs_total",
		Help: "Finalize runs by outcome.",
	}, []string{"outcome"})

	uploadedEpisodes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multimediabot_uploaded_episodes_total",
		Help: "Episodes copied to the archive channel and persisted.",
	})

	failedEpisodes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multimediabot_failed_episodes_total",
		Help: "Episodes that could not be copied or persisted after retries.",
	})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "multimediabot_upload_duration_seconds",
		Help:    "Wall time of a finalize run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	retryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multimediabot_retry_exhausted_total",
		Help: "Remote operations that failed after every attempt.",
	}, []string{"operation"})

	sessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multimediabot_session_events_total",
		Help: "Ingestion session lifecycle events by flow kind.",
	}, []string{"kind", "event"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multimediabot_active_sessions",
		Help: "Ingestion sessions currently open.",
	})

	catalogViews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multimediabot_catalog_requests_total",
		Help: "Viewer requests served by the catalog renderer.",
	}, []string{"action"})
)
