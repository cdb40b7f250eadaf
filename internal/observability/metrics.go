package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/cryptolctl/internal/protocol"
	"github.com/danmuck/cryptolctl/internal/protocol/session"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cryptolctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and JSON-RPC method.",
		},
		[]string{"component", "route", "rpc_method", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cryptolctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"component", "route", "rpc_method", "status"},
	)
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cryptolctl",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "JSON-RPC calls and notifications sent to the server.",
		},
		[]string{"method", "outcome", "kind"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cryptolctl",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "JSON-RPC round trip duration in seconds.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 30, 120, 600, 3600},
		},
		[]string{"method", "outcome"},
	)
	rpcInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cryptolctl",
			Subsystem: "rpc",
			Name:      "in_flight",
			Help:      "JSON-RPC requests awaiting a response.",
		},
	)
	stateTransitions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cryptolctl",
			Subsystem: "rpc",
			Name:      "state_transitions_total",
			Help:      "Successful calls that replaced the session state handle.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, rpcCalls, rpcDuration, rpcInFlight, stateTransitions)
	})
}

func RecordHTTPRequest(component, route, rpcMethod string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(component, route, rpcMethod, statusLabel).Inc()
	httpDuration.WithLabelValues(component, route, rpcMethod, statusLabel).Observe(duration.Seconds())
}

// RecordCall counts one finished call. kind is the error kind, or empty.
func RecordCall(method protocol.Method, err error, stateChanged bool, duration time.Duration) {
	RegisterMetrics()
	outcome, kind := callOutcome(err)
	rpcCalls.WithLabelValues(string(method), outcome, kind).Inc()
	rpcDuration.WithLabelValues(string(method), outcome).Observe(duration.Seconds())
	if stateChanged {
		stateTransitions.Inc()
	}
}

func callOutcome(err error) (string, string) {
	if err == nil {
		return "ok", ""
	}
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr.Category.String(), string(perr.Kind)
	}
	return "error", ""
}

// MetricsHook records every session call into the prometheus collectors.
type MetricsHook struct{}

var _ session.CallHook = MetricsHook{}

func NewMetricsHook() MetricsHook {
	RegisterMetrics()
	return MetricsHook{}
}

func (MetricsHook) OnCallStart(ctx context.Context, info session.CallInfo) (context.Context, session.HookToken) {
	if !info.Notification {
		rpcInFlight.Inc()
	}
	return ctx, nil
}

func (MetricsHook) OnCallEnd(_ context.Context, _ session.HookToken, info session.CallInfo, stats session.CallStats, err error) {
	if !info.Notification {
		rpcInFlight.Dec()
	}
	RecordCall(info.Method, err, stats.StateChanged, stats.Duration)
}
