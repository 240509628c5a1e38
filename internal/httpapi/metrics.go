package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/streamrig/internal/completion"
)

const namespace = "streamrig"

// Metrics bundles the Prometheus collectors for the rig. All methods are
// safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	overlayClients  *prometheus.GaugeVec
	broadcastDrops  *prometheus.CounterVec
	rateLimited     prometheus.Counter
	triggersFired   *prometheus.CounterVec
	subActionFails  *prometheus.CounterVec
	speechOutcomes  *prometheus.CounterVec
	audioFinished   *prometheus.CounterVec
	audioQueueDepth *prometheus.GaugeVec
	chatLinesSeen   prometheus.Counter
	chatLinesDrop   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		overlayClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overlay_clients",
			Help:      "Current connected overlay clients",
		}, []string{"transport"}),
		broadcastDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlay_drops_total",
			Help:      "Overlay events dropped due to slow clients",
		}, []string{"transport"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Number of HTTP requests rejected due to rate limiting",
		}),
		triggersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_fired_total",
			Help:      "Trigger firings by source",
		}, []string{"source"}),
		subActionFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subaction_failures_total",
			Help:      "Sub-action failures by kind",
		}, []string{"kind"}),
		speechOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_outcomes_total",
			Help:      "Terminal outcome of every speech serial",
		}, []string{"outcome"}),
		audioFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_finished_total",
			Help:      "Finished audio items by channel and status",
		}, []string{"channel", "status"}),
		audioQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_queue_depth",
			Help:      "Items waiting per audio channel",
		}, []string{"channel"}),
		chatLinesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_lines_total",
			Help:      "IRC lines read",
		}),
		chatLinesDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_lines_dropped_total",
			Help:      "IRC lines ignored by reason",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.overlayClients,
		m.broadcastDrops,
		m.rateLimited,
		m.triggersFired,
		m.subActionFails,
		m.speechOutcomes,
		m.audioFinished,
		m.audioQueueDepth,
		m.chatLinesSeen,
		m.chatLinesDrop,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

func (m *Metrics) IncOverlayClients(transport string, delta float64) {
	if m == nil {
		return
	}
	m.overlayClients.WithLabelValues(transport).Add(delta)
}

func (m *Metrics) IncBroadcastDrops(transport string) {
	if m == nil {
		return
	}
	m.broadcastDrops.WithLabelValues(transport).Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) TriggerFired(source string) {
	if m == nil {
		return
	}
	m.triggersFired.WithLabelValues(source).Inc()
}

func (m *Metrics) SubActionFailed(kind string) {
	if m == nil {
		return
	}
	m.subActionFails.WithLabelValues(kind).Inc()
}

// SpeechOutcome counts ok, failed, timed_out and skipped serials.
func (m *Metrics) SpeechOutcome(outcome string) {
	if m == nil {
		return
	}
	m.speechOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AudioFinished(channel int, status completion.Status) {
	if m == nil {
		return
	}
	m.audioFinished.WithLabelValues(strconv.Itoa(channel), status.String()).Inc()
}

func (m *Metrics) AudioQueueDepth(channel int, depth int) {
	if m == nil {
		return
	}
	m.audioQueueDepth.WithLabelValues(strconv.Itoa(channel)).Set(float64(depth))
}

func (m *Metrics) ChatLineSeen() {
	if m == nil {
		return
	}
	m.chatLinesSeen.Inc()
}

func (m *Metrics) ChatLineDropped(reason string) {
	if m == nil {
		return
	}
	m.chatLinesDrop.WithLabelValues(reason).Inc()
}
