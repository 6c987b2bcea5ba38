// Package metrics exposes the tracker's Prometheus series. All series
// are low-cardinality: backend/type labels only, never employee ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesProcessedTotal counts frames that went through detection.
	FramesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attend_frames_processed_total",
			Help: "Frames processed by the inference loop",
		},
		[]string{"camera"},
	)

	// InferenceLatency tracks detect round-trip latency.
	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attend_inference_latency_ms",
			Help:    "Face detection latency in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000},
		},
		[]string{"backend"},
	)

	// DetectionsTotal counts detections by identification outcome.
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attend_detections_total",
			Help: "Face detections by outcome",
		},
		[]string{"outcome"}, // "recognized", "unknown", "low_quality"
	)

	// TracksActive is the current live track count per camera.
	TracksActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "attend_tracks_active",
			Help: "Live tracks per camera",
		},
		[]string{"camera"},
	)

	// WriterQueueDepth is the intent queue length.
	WriterQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attend_writer_queue_depth",
			Help: "Pending intents in the DB writer queue",
		},
	)

	// WriterFailuresTotal counts rolled-back intents.
	WriterFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attend_writer_failures_total",
			Help: "Intents rolled back by the DB writer",
		},
	)

	// AlertsEmittedTotal counts persisted alerts by type.
	AlertsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attend_alerts_emitted_total",
			Help: "Alerts appended to the alert log",
		},
		[]string{"type"},
	)

	// AlertsSuppressedTotal counts alerts dropped by gate or debounce.
	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attend_alerts_suppressed_total",
			Help: "Alerts suppressed before emission",
		},
		[]string{"reason"}, // "schedule", "debounce"
	)

	// CaptureReconnectsTotal counts source reopen cycles.
	CaptureReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attend_capture_reconnects_total",
			Help: "Camera source reconnect attempts",
		},
		[]string{"camera"},
	)

	// SnapshotsSavedTotal counts rolling capture files written.
	SnapshotsSavedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attend_snapshots_saved_total",
			Help: "Rolling camera snapshots written to disk",
		},
	)

	// EngineUp reports whether a face backend is initialized.
	EngineUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attend_engine_up",
			Help: "Face engine backend availability (1=up, 0=degraded)",
		},
	)
)
