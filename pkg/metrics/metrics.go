// Package metrics exports uploader and store worker telemetry to Prometheus.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fly-io/imageuploader/pkg/errors"
)

// Metrics implements the store and session observers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesStored   prometheus.Counter
	bytesStored    prometheus.Counter
	framesRejected *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	storeRequests  *prometheus.CounterVec
	queueDepth     prometheus.Gauge
}

// New registers the uploader metrics under namespace.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "image_uploader"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		framesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_stored_total",
			Help:      "Upload frames normalized and written to disk.",
		}),
		bytesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stored_bytes_total",
			Help:      "Bytes written in the canonical image format.",
		}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Upload frames that ended their session.",
		}, []string{"reason"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished connection sessions by direction and result.",
		}, []string{"direction", "result"}),
		storeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_requests_total",
			Help:      "Requests handled by the store worker by kind and outcome.",
		}, []string{"kind", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_queue_depth",
			Help:      "Requests waiting for the store worker.",
		}),
	}

	var err error
	if m.framesStored, err = register(reg, m.framesStored); err != nil {
		return nil, err
	}
	if m.bytesStored, err = register(reg, m.bytesStored); err != nil {
		return nil, err
	}
	if m.framesRejected, err = register(reg, m.framesRejected); err != nil {
		return nil, err
	}
	if m.sessions, err = register(reg, m.sessions); err != nil {
		return nil, err
	}
	if m.storeRequests, err = register(reg, m.storeRequests); err != nil {
		return nil, err
	}
	if m.queueDepth, err = register(reg, m.queueDepth); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing the collector already registered under the
// same descriptor so that several servers in one process share series.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register uploader metric: %w", err)
	}
	return c, nil
}

// ObserveRequest counts one store worker request.
func (m *Metrics) ObserveRequest(kind, outcome string) {
	if m == nil {
		return
	}
	m.storeRequests.WithLabelValues(kind, outcome).Inc()
}

// ObserveQueueDepth records the worker queue length.
func (m *Metrics) ObserveQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveFrameStored(size int) {
	if m == nil {
		return
	}
	m.framesStored.Inc()
	m.bytesStored.Add(float64(size))
}

func (m *Metrics) ObserveFrameRejected(reason string) {
	if m == nil {
		return
	}
	m.framesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveSession(direction, result string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(direction, result).Inc()
}
