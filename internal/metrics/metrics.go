package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for conference sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	ActiveRooms        prometheus.Gauge
	RoomConnects       *prometheus.CounterVec
	ConnectAttempts    prometheus.Histogram
	TranscriptDeltas   prometheus.Counter
	EnrichmentJobs     *prometheus.CounterVec
	EnrichmentSeconds  *prometheus.HistogramVec
	Compilations       *prometheus.CounterVec
	SatisfactionScores prometheus.Histogram
	SignalingPeers     prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dialogue_conference_sessions_active",
			Help: "Conference sessions currently running",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dialogue_conference_rooms_active",
			Help: "Connected media rooms across all sessions",
		}),
		RoomConnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogue_room_connects_total",
				Help: "Room connection outcomes",
			},
			[]string{"kind", "status"},
		),
		ConnectAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dialogue_room_connect_attempts",
			Help:    "Transport attempts needed per room connection",
			Buckets: []float64{1, 2, 3, 5},
		}),
		TranscriptDeltas: factory.NewCounter(prometheus.CounterOpts{
			Name: "dialogue_transcript_deltas_total",
			Help: "Transcript deltas appended to room buffers",
		}),
		EnrichmentJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogue_enrichment_jobs_total",
				Help: "Enrichment calls by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		EnrichmentSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dialogue_enrichment_seconds",
				Help:    "Enrichment call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		),
		Compilations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogue_compilations_total",
				Help: "Transcript compilations by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		SatisfactionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dialogue_satisfaction_score",
			Help:    "Recorded participant satisfaction scores",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		SignalingPeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dialogue_signaling_peers",
			Help: "Peers connected to the signaling hub",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordRoomConnect records the outcome of connecting a main or breakout room.
func (m *Metrics) RecordRoomConnect(kind string, attempts int, err error) {
	if m == nil {
		return
	}
	m.RoomConnects.WithLabelValues(kind, status(err)).Inc()
	if attempts > 0 {
		m.ConnectAttempts.Observe(float64(attempts))
	}
	if err == nil {
		m.ActiveRooms.Inc()
	}
}

// RoomDisconnected decrements the active room gauge.
func (m *Metrics) RoomDisconnected() {
	if m == nil {
		return
	}
	m.ActiveRooms.Dec()
}

// RecordDelta counts an appended transcript delta.
func (m *Metrics) RecordDelta() {
	if m == nil {
		return
	}
	m.TranscriptDeltas.Inc()
}

// RecordEnrichment records one enrichment call.
func (m *Metrics) RecordEnrichment(kind string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.EnrichmentJobs.WithLabelValues(kind, status(err)).Inc()
	m.EnrichmentSeconds.WithLabelValues(kind).Observe(seconds)
}

// RecordCompilation records a final or breakout compilation.
func (m *Metrics) RecordCompilation(kind string, success bool) {
	if m == nil {
		return
	}
	s := "success"
	if !success {
		s = "failure"
	}
	m.Compilations.WithLabelValues(kind, s).Inc()
}

// RecordSatisfaction observes a satisfaction score.
func (m *Metrics) RecordSatisfaction(score int) {
	if m == nil {
		return
	}
	m.SatisfactionScores.Observe(float64(score))
}

// SetSignalingPeers sets the signaling peer gauge.
func (m *Metrics) SetSignalingPeers(n int) {
	if m == nil {
		return
	}
	m.SignalingPeers.Set(float64(n))
}
