// Package metrics exposes timer activity as Prometheus metrics and serves
// them next to liveness and readiness checks.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/balkashynov/pomo/internal/timer"
)

const namespace = "pomo"

// Transition results.
const (
	ResultOK        = "ok"
	ResultRejected  = "rejected"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
	ResultError     = "error"
)

// Recorder implements timer.Recorder on a private Prometheus registry.
type Recorder struct {
	registry            *prometheus.Registry
	transitions         *prometheus.CounterVec
	persistenceFailures *prometheus.CounterVec
	sessionMinutes      *prometheus.HistogramVec
}

// NewRecorder registers the timer metrics and the Go runtime collectors on a
// new registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Session operations by outcome.",
		}, []string{"op", "result"}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Record store calls that failed after a successful transition.",
		}, []string{"op"}),
		sessionMinutes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_minutes",
			Help:      "Active minutes of sessions when they end.",
			Buckets:   []float64{1, 5, 10, 15, 20, 25, 30, 45, 60, 90},
		}, []string{"op"}),
	}
	r.registry.MustRegister(
		r.transitions,
		r.persistenceFailures,
		r.sessionMinutes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the registry holding the recorder's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RecordTransition(op timer.Operation, err error) {
	r.transitions.WithLabelValues(string(op), result(err)).Inc()
}

func (r *Recorder) RecordPersistenceFailure(op timer.Operation) {
	r.persistenceFailures.WithLabelValues(string(op)).Inc()
}

func (r *Recorder) RecordSessionMinutes(op timer.Operation, minutes float64) {
	r.sessionMinutes.WithLabelValues(string(op)).Observe(minutes)
}

func result(err error) string {
	var verr *timer.ValidationError
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, timer.ErrNotFoundOrInvalidState):
		return ResultRejected
	case errors.Is(err, timer.ErrDuplicateActiveSession):
		return ResultDuplicate
	case errors.As(err, &verr):
		return ResultInvalid
	default:
		return ResultError
	}
}
