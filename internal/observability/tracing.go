package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/danmuck/cryptolctl/internal/protocol"
	"github.com/danmuck/cryptolctl/internal/protocol/session"
)

const instrumentationName = "github.com/danmuck/cryptolctl"

// TracingConfig configures the OpenTelemetry call hook. Zero providers
// resolve to the otel globals.
type TracingConfig struct {
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator
	Attributes     []attribute.KeyValue
}

// TracingHook opens one client span per call and injects the trace context
// into the outgoing HTTP headers.
type TracingHook struct {
	cfg    TracingConfig
	tracer trace.Tracer
}

var _ session.CallHook = (*TracingHook)(nil)

func NewTracingHook(cfg TracingConfig) *TracingHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}
	return &TracingHook{cfg: cfg, tracer: cfg.TracerProvider.Tracer(instrumentationName)}
}

func (h *TracingHook) OnCallStart(ctx context.Context, info session.CallInfo) (context.Context, session.HookToken) {
	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.service", "cryptol"),
		attribute.String("rpc.method", string(info.Method)),
		attribute.String("cryptol.session_id", info.SessionID),
		attribute.String("server.address", info.Endpoint),
		attribute.Int("cryptol.attempt", info.Attempt),
		attribute.Bool("cryptol.bootstrap", info.Bootstrap),
	}
	if !info.Notification {
		attrs = append(attrs, attribute.Int64("rpc.jsonrpc.request_id", int64(info.RequestID)))
	}
	attrs = append(attrs, h.cfg.Attributes...)

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("cryptol/%s", info.Method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	carrier := propagation.HeaderCarrier(http.Header{})
	h.cfg.Propagator.Inject(ctx, carrier)
	for _, key := range carrier.Keys() {
		ctx = session.WithHeader(ctx, http.CanonicalHeaderKey(key), carrier.Get(key))
	}
	return ctx, span
}

func (h *TracingHook) OnCallEnd(_ context.Context, token session.HookToken, _ session.CallInfo, stats session.CallStats, err error) {
	span, ok := token.(trace.Span)
	if !ok || !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.Bool("cryptol.state_changed", stats.StateChanged))
	if err != nil {
		var perr *protocol.Error
		if errors.As(err, &perr) {
			span.SetAttributes(
				attribute.String("cryptol.error.category", perr.Category.String()),
				attribute.String("cryptol.error.kind", string(perr.Kind)),
			)
			if perr.Code != 0 {
				span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", perr.Code))
			}
		}
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
