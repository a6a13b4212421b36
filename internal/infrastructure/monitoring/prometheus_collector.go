package monitoring

import (
	"time"

	"liveclass/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements the core metrics port on top of the
// default prometheus registry.
type PrometheusCollector struct {
	sessionsActive *prometheus.GaugeVec
	peersConnected *prometheus.GaugeVec
	producersOpen  *prometheus.GaugeVec
	consumersOpen  prometheus.Gauge

	speakRequestsTotal prometheus.Counter
	speakDecisions     *prometheus.CounterVec

	recordingsActive *prometheus.GaugeVec
	recorderRequests *prometheus.HistogramVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveclass_sessions_active",
			Help: "Number of live sessions by kind",
		}, []string{"kind"}),

		peersConnected: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveclass_peers_connected",
			Help: "Number of connected peers by session kind",
		}, []string{"kind"}),

		producersOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveclass_producers_open",
			Help: "Number of live producers by media kind",
		}, []string{"kind"}),

		consumersOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liveclass_consumers_open",
			Help: "Number of live consumers",
		}),

		speakRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liveclass_speak_requests_total",
			Help: "Total speak requests filed",
		}),

		speakDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liveclass_speak_decisions_total",
			Help: "Speak request decisions by outcome",
		}, []string{"outcome"}),

		recordingsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveclass_recordings_active",
			Help: "Active recording bridges by kind",
		}, []string{"kind"}),

		recorderRequests: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liveclass_recorder_request_duration_seconds",
			Help:    "Recording service request latency by operation and result",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"op", "result"}),
	}
}

func (p *PrometheusCollector) SessionStarted(kind domain.SessionKind) {
	p.sessionsActive.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) SessionEnded(kind domain.SessionKind) {
	p.sessionsActive.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) PeerJoined(kind domain.SessionKind) {
	p.peersConnected.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) PeerLeft(kind domain.SessionKind) {
	p.peersConnected.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) ProducerOpened(kind domain.MediaKind) {
	p.producersOpen.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) ProducerClosed(kind domain.MediaKind) {
	p.producersOpen.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) ConsumerOpened() { p.consumersOpen.Inc() }
func (p *PrometheusCollector) ConsumerClosed() { p.consumersOpen.Dec() }

func (p *PrometheusCollector) SpeakRequested() { p.speakRequestsTotal.Inc() }

func (p *PrometheusCollector) SpeakDecided(approved bool) {
	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	p.speakDecisions.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) RecordingStarted(kind domain.RecordKind) {
	p.recordingsActive.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordingStopped(kind domain.RecordKind) {
	p.recordingsActive.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) RecorderRequest(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.recorderRequests.WithLabelValues(op, result).Observe(d.Seconds())
}
