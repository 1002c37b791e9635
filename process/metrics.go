package process

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	LabelStep      = "step"
	LabelPhase     = "phase"
	LabelSuccess   = "success"
	LabelErrorType = "error_type"
)

// Metrics instrumentation of step invocations, nil disables it
type Metrics struct {
	InvocationDuration *prometheus.HistogramVec
	Failures           *prometheus.CounterVec
	PollTimeouts       *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mtadeploy",
			Subsystem: "steps",
			Name:      "invocation_duration_seconds",
			Help:      "Step invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{LabelStep, LabelPhase, LabelSuccess}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtadeploy",
			Subsystem: "steps",
			Name:      "failures_total",
			Help:      "Failed step invocations.",
		}, []string{LabelStep, LabelErrorType}),
		PollTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtadeploy",
			Subsystem: "steps",
			Name:      "poll_timeouts_total",
			Help:      "Polling steps that ran out of time.",
		}, []string{LabelStep}),
	}
	if registerer != nil {
		registerer.MustRegister(m.InvocationDuration, m.Failures, m.PollTimeouts)
	}
	return m
}
