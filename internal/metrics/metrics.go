// Package metrics exposes Prometheus collectors for voice capture and an
// optional HTTP listener serving them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recorder.
type Metrics struct {
	// Connection metrics
	ActiveConnections prometheus.Gauge
	IdleDisconnects   prometheus.Counter
	PacketsReceived   prometheus.Counter
	PacketsDropped    *prometheus.CounterVec

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	AdmitRejected   prometheus.Counter

	// Frame metrics
	FramesAccepted       prometheus.Counter
	FramesRejected       prometheus.Counter
	FramesLowInformation prometheus.Counter
	BytesWritten         prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicerec_active_connections",
			Help: "Current number of joined voice channels",
		}),
		IdleDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerec_idle_disconnects_total",
			Help: "Voice channels left because the idle timer elapsed",
		}),
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerec_packets_received_total",
			Help: "Opus packets read from voice connections",
		}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerec_packets_dropped_total",
			Help: "Opus packets not delivered to a session, by reason",
		}, []string{"reason"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicerec_active_sessions",
			Help: "Current number of capture sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerec_sessions_started_total",
			Help: "Capture sessions admitted",
		}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerec_sessions_ended_total",
			Help: "Capture sessions finalized, by end reason and outcome",
		}, []string{"reason", "outcome"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicerec_session_duration_seconds",
			Help:    "Wall-clock duration of capture sessions",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 600},
		}),
		AdmitRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerec_admit_rejected_total",
			Help: "Start requests refused because the participant was already recorded",
		}),

		FramesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerec_frames_accepted_total",
			Help: "Frames decoded and written",
		}),
		FramesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerec_frames_rejected_total",
			Help: "Frames dropped because they failed to decode",
		}),
		FramesLowInformation: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerec_frames_low_information_total",
			Help: "Accepted frames that were almost entirely silent",
		}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerec_pcm_bytes_written_total",
			Help: "PCM payload bytes written to recordings",
		}),
	}
}

// NewNop returns metrics registered with a private registry, for tests and
// callers that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
