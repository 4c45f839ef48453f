// Package metrics exposes client activity as Prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "webmax"

// Metrics holds the client collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	events          *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	handlerErrors   *prometheus.CounterVec
	requests        *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	connected       prometheus.Gauge
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered (a second client on the same registry) are
// shared.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Inbound events taken from the session queue, by kind.",
		}, []string{"kind"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Time spent in registered handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Handler invocations that returned an error or panicked.",
		}, []string{"handler"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests sent to the service, by opcode and result.",
		}, []string{"opcode", "result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts, by result.",
		}, []string{"result"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the session is authenticated, 0 otherwise.",
		}),
	}

	var err error
	if m.events, err = register(reg, m.events); err != nil {
		return nil, err
	}
	if m.handlerDuration, err = register(reg, m.handlerDuration); err != nil {
		return nil, err
	}
	if m.handlerErrors, err = register(reg, m.handlerErrors); err != nil {
		return nil, err
	}
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.reconnects, err = register(reg, m.reconnects); err != nil {
		return nil, err
	}
	if m.connected, err = register(reg, m.connected); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// EventReceived counts one inbound event.
func (m *Metrics) EventReceived(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// HandlerDone records one handler invocation.
func (m *Metrics) HandlerDone(handler string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(handler).Observe(d.Seconds())
	if err != nil {
		m.handlerErrors.WithLabelValues(handler).Inc()
	}
}

// RequestDone records one request/response round trip.
func (m *Metrics) RequestDone(opcode string, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(opcode, result(err)).Inc()
}

// Reconnected records the outcome of one reconnect.
func (m *Metrics) Reconnected(err error) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(result(err)).Inc()
}

// SetConnected updates the connection gauge.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
