package transport

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK        = "ok"
	outcomeHTTPError = "http_error"
	outcomeNetwork   = "network_error"
)

// Metrics holds the prometheus collectors of a transport. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	wait     prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. Collectors that
// are already registered (a second session sharing a registry) are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mieaa",
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Requests issued to the miEAA API by outcome.",
		}, []string{"method", "endpoint", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mieaa",
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Latency of miEAA API requests, throttle wait excluded.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mieaa",
			Subsystem: "transport",
			Name:      "throttle_wait_seconds",
			Help:      "Time spent waiting for the minimum request interval.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.wait, err = register(reg, m.wait); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observeRequest(method, endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, endpoint, outcome).Inc()
	m.duration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

func (m *Metrics) observeWait(d time.Duration) {
	if m == nil {
		return
	}
	m.wait.Observe(d.Seconds())
}
