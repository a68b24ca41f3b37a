package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons passed to RecordDropped.
const (
	DropRateLimited = "rate_limited"
	DropMalformed   = "malformed"
	DropOversized   = "oversized"
)

// CoAPMetrics provides observability for the CoAP engine.
//
// The engine uses a no-op implementation when none is configured.
//
// Example usage:
//
//	// With metrics enabled
//	engine := coap.NewEngine(ep, reg, coap.Options{Metrics: metrics.NewCoAPMetrics()})
//
//	// Without metrics (no-op)
//	engine := coap.NewEngine(ep, reg, coap.Options{})
type CoAPMetrics interface {
	// RecordRequest records an answered request by method name
	// (e.g. "GET") and response code in dotted form (e.g. "2.05").
	RecordRequest(method, code string, duration time.Duration)

	// RecordHandlerFailure counts requests whose file I/O failed and were
	// answered with 5.00.
	RecordHandlerFailure(method string)

	// RecordBytesTransferred records payload bytes served ("read") or
	// stored ("write").
	RecordBytesTransferred(direction string, bytes int64)

	// RecordRetransmission counts resent confirmable messages.
	RecordRetransmission()

	// RecordGiveUp counts confirmable messages abandoned after the last
	// retransmission.
	RecordGiveUp()

	// SetObservers updates the number of active observations.
	SetObservers(count int)

	// RecordDropped counts datagrams discarded without an answer.
	RecordDropped(reason string)
}

// coapMetrics is the Prometheus implementation of CoAPMetrics.
type coapMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	handlerFailures  *prometheus.CounterVec
	bytesTransferred *prometheus.CounterVec
	retransmissions  prometheus.Counter
	giveUps          prometheus.Counter
	observers        prometheus.Gauge
	dropped          *prometheus.CounterVec
}

// NewCoAPMetrics creates a Prometheus-backed CoAPMetrics registered with
// the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewCoAPMetrics() CoAPMetrics {
	if !IsEnabled() {
		return NewNoopCoAPMetrics()
	}
	return newCoAPMetrics(GetRegistry())
}

func newCoAPMetrics(reg prometheus.Registerer) *coapMetrics {
	return &coapMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coapfs_coap_requests_total",
				Help: "Total number of CoAP requests by method and response code",
			},
			[]string{"method", "code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "coapfs_coap_request_duration_seconds",
				Help: "Duration of CoAP request handling in seconds",
				Buckets: []float64{
					0.0001, // 100us
					0.0005, // 500us
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
			[]string{"method"},
		),
		handlerFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coapfs_coap_handler_failures_total",
				Help: "Total number of requests answered with 5.00 after a file I/O failure",
			},
			[]string{"method"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coapfs_coap_bytes_transferred_total",
				Help: "Total payload bytes read from or written to resources",
			},
			[]string{"direction"}, // read or write
		),
		retransmissions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "coapfs_coap_retransmissions_total",
				Help: "Total number of confirmable messages retransmitted",
			},
		),
		giveUps: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "coapfs_coap_retransmit_give_ups_total",
				Help: "Total number of confirmable messages abandoned unacknowledged",
			},
		),
		observers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "coapfs_coap_active_observers",
				Help: "Current number of active observations",
			},
		),
		dropped: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coapfs_coap_datagrams_dropped_total",
				Help: "Total number of datagrams discarded without an answer",
			},
			[]string{"reason"},
		),
	}
}

func (m *coapMetrics) RecordRequest(method, code string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, code).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *coapMetrics) RecordHandlerFailure(method string) {
	m.handlerFailures.WithLabelValues(method).Inc()
}

func (m *coapMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *coapMetrics) RecordRetransmission() {
	m.retransmissions.Inc()
}

func (m *coapMetrics) RecordGiveUp() {
	m.giveUps.Inc()
}

func (m *coapMetrics) SetObservers(count int) {
	m.observers.Set(float64(count))
}

func (m *coapMetrics) RecordDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

// NewNoopCoAPMetrics returns a CoAPMetrics that records nothing.
func NewNoopCoAPMetrics() CoAPMetrics {
	return noopCoAPMetrics{}
}

// noopCoAPMetrics is a no-op implementation of CoAPMetrics with zero overhead.
type noopCoAPMetrics struct{}

func (noopCoAPMetrics) RecordRequest(method, code string, duration time.Duration) {}
func (noopCoAPMetrics) RecordHandlerFailure(method string)                        {}
func (noopCoAPMetrics) RecordBytesTransferred(direction string, bytes int64)      {}
func (noopCoAPMetrics) RecordRetransmission()                                     {}
func (noopCoAPMetrics) RecordGiveUp()                                             {}
func (noopCoAPMetrics) SetObservers(count int)                                    {}
func (noopCoAPMetrics) RecordDropped(reason string)                               {}
