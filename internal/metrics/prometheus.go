// Package metrics exposes Prometheus instrumentation for the gateway.
// The observer subscribes to pipeline events and never sits on the
// call path.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

const namespace = "relay"

// LatencyBuckets covers sub-second cache hits through multi-minute
// generations.
var LatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 4.0, 8.0,
	15.0, 30.0, 60.0, 120.0, 300.0,
}

// Observer implements the pipeline observer contract over Prometheus
// collectors.
type Observer struct {
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewObserver registers the gateway collectors on reg; nil registers
// on the default registry.
func NewObserver(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Provider requests issued",
			},
			[]string{"provider", "model", "stream"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_failures_total",
				Help:      "Provider requests that ended in an error, by error kind",
			},
			[]string{"provider", "model", "kind"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end provider call latency",
				Buckets:   LatencyBuckets,
			},
			[]string{"provider", "model"},
		),
	}

	reg.MustRegister(o.requests, o.failures, o.latency)
	return o
}

func (o *Observer) OnRequest(ctx context.Context, provider, model string, req *types.ChatRequest) {
	stream := "false"
	if req.Stream {
		stream = "true"
	}
	o.requests.WithLabelValues(provider, model, stream).Inc()
}

func (o *Observer) OnResponse(ctx context.Context, provider, model string, req *types.ChatRequest, elapsed time.Duration) {
	o.latency.WithLabelValues(provider, model).Observe(elapsed.Seconds())
}

func (o *Observer) OnError(ctx context.Context, provider, model string, req *types.ChatRequest, err error) {
	kind := "unknown"
	if ge, ok := errors.AsError(err); ok {
		kind = string(ge.Kind)
	}
	o.failures.WithLabelValues(provider, model, kind).Inc()
}
