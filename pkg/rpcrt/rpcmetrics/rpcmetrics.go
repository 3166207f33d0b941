// Package rpcmetrics is the Prometheus-backed implementation of
// rpcrt.CallMetrics. It takes its *prometheus.Registry as an explicit
// constructor argument rather than keying off a process-global registry:
// pkg/rpcrt never reaches for global state, so nothing upstream of it
// should either.
package rpcmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openrpcrt/rpcrt/pkg/rpcrt"
)

// Metrics is the Prometheus-backed rpcrt.CallMetrics implementation.
type Metrics struct {
	calls           *prometheus.CounterVec
	callAttempts    *prometheus.HistogramVec
	callDuration    *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	serverCalls     *prometheus.CounterVec
	serverDuration  *prometheus.HistogramVec
	listenerUp      *prometheus.GaugeVec
}

// New builds a Metrics instance registering all of its collectors against
// reg. Passing a fresh *prometheus.Registry per test keeps metrics tests free
// of cross-test collisions with the default global registry.
func New(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		calls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcrt_client_calls_total",
				Help: "Total number of completed client calls by procedure tag and terminal status.",
			},
			[]string{"tag", "status"},
		),
		callAttempts: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpcrt_client_call_attempts",
				Help:    "Number of attempts (including retries) a client call took to reach a terminal status.",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
			},
			[]string{"tag"},
		),
		callDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpcrt_client_call_duration_milliseconds",
				Help:    "Wall-clock duration of a client call, from first attempt to terminal status, in milliseconds.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"tag"},
		),
		retries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcrt_client_retries_total",
				Help: "Total number of retry attempts by procedure tag and retry verdict.",
			},
			[]string{"tag", "verdict"},
		),
		reconnects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcrt_client_reconnects_total",
				Help: "Total number of binding reconnects by procedure tag.",
			},
			[]string{"tag"},
		),
		serverCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcrt_server_calls_total",
				Help: "Total number of calls dispatched by the server, by interface UUID and outcome.",
			},
			[]string{"interface", "outcome"},
		),
		serverDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpcrt_server_call_duration_milliseconds",
				Help:    "Duration of a dispatched server call in milliseconds.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"interface"},
		),
		listenerUp: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rpcrt_server_listening",
				Help: "1 if the server is currently listening, 0 otherwise.",
			},
			[]string{"service"},
		),
	}
}

// ObserveCall implements rpcrt.CallMetrics.
func (m *Metrics) ObserveCall(tag string, status rpcrt.Status, attempts int) {
	outcome := "ok"
	if status != rpcrt.StatusOK {
		outcome = "error"
	}
	m.calls.WithLabelValues(tag, outcome).Inc()
	m.callAttempts.WithLabelValues(tag).Observe(float64(attempts))
}

// ObserveCallDuration records the wall-clock duration of a completed call.
// Not part of rpcrt.CallMetrics (which has no timing hook of its own); a
// caller wraps RpcClient.Call and calls this alongside ObserveCall.
func (m *Metrics) ObserveCallDuration(tag string, d time.Duration) {
	m.callDuration.WithLabelValues(tag).Observe(float64(d.Milliseconds()))
}

// ObserveRetry implements rpcrt.CallMetrics.
func (m *Metrics) ObserveRetry(tag string, verdict rpcrt.Verdict) {
	m.retries.WithLabelValues(tag, verdict.String()).Inc()
}

// ObserveReconnect implements rpcrt.CallMetrics.
func (m *Metrics) ObserveReconnect(tag string) {
	m.reconnects.WithLabelValues(tag).Inc()
}

// ObserveServerCall records one dispatched server call and its duration.
// Intended to wrap the Handler passed into an RpcSrvObject.
func (m *Metrics) ObserveServerCall(interfaceUUID string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.serverCalls.WithLabelValues(interfaceUUID, outcome).Inc()
	m.serverDuration.WithLabelValues(interfaceUUID).Observe(float64(d.Milliseconds()))
}

// SetListening reports whether the named service is currently listening.
func (m *Metrics) SetListening(service string, listening bool) {
	v := 0.0
	if listening {
		v = 1.0
	}
	m.listenerUp.WithLabelValues(service).Set(v)
}

var (
	_ rpcrt.CallMetrics   = (*Metrics)(nil)
	_ rpcrt.ServerMetrics = (*Metrics)(nil)
)
