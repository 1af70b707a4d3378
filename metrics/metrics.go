package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type TranscodeAPIMetrics struct {
	TasksCreatedCount    prometheus.Counter
	ActiveTasks          prometheus.Gauge
	WorkerStartCount     *prometheus.CounterVec
	WorkerRestartCount   *prometheus.CounterVec
	ProbeFailureCount    prometheus.Counter
	ProbeDurationSec     prometheus.Histogram
	URLRefreshCount      *prometheus.CounterVec
	SegmentWaitSec       prometheus.Histogram
	SegmentServedCount   *prometheus.CounterVec
	PlaylistRequestCount prometheus.Counter
	HTTPRequestsInFlight prometheus.Gauge
}

func NewMetrics() *TranscodeAPIMetrics {
	m := &TranscodeAPIMetrics{
		TasksCreatedCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcode_tasks_created_count",
			Help: "The total number of transcoding tasks created",
		}),
		ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "transcode_active_tasks",
			Help: "Number of tasks currently in an active state",
		}),
		WorkerStartCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcode_worker_start_count",
			Help: "The total number of worker processes started, broken up by success",
		}, []string{"success"}),
		WorkerRestartCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcode_worker_restart_count",
			Help: "The total number of worker restarts, broken up by reason",
		}, []string{"reason"}),
		ProbeFailureCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcode_probe_failure_count",
			Help: "The total number of failed source probes",
		}),
		ProbeDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcode_probe_duration_seconds",
			Help:    "Time taken to probe a source video",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		URLRefreshCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcode_url_refresh_count",
			Help: "The total number of upstream URL refreshes, broken up by success",
		}, []string{"success"}),
		SegmentWaitSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcode_segment_wait_seconds",
			Help:    "Time spent blocking for a segment to appear on disk",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		SegmentServedCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcode_segment_served_count",
			Help: "The total number of segment requests, broken up by outcome",
		}, []string{"outcome"}),
		PlaylistRequestCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcode_playlist_request_count",
			Help: "The total number of playlist requests",
		}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "transcode_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		}),
	}

	return m
}

var Metrics = NewMetrics()
