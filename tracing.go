// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerConfig configures the OpenTelemetry instrumentation a Session
// reports spans through. Construct with NewTracer.
type TracerConfig struct {
	// TracerName is the instrumentation scope name passed to otel.Tracer.
	TracerName string
}

// TracerOption customizes a TracerConfig passed to NewTracer.
type TracerOption func(*TracerConfig)

// WithTracerName overrides the instrumentation scope name.
func WithTracerName(name string) TracerOption {
	return func(c *TracerConfig) { c.TracerName = name }
}

func defaultTracerConfig() TracerConfig {
	return TracerConfig{TracerName: "github.com/cosminvlad/remoteviewing"}
}

// Tracer wraps the otel.Tracer a Session creates its Serve span from,
// covering the handshake and message loop. A nil *Tracer is valid and
// makes every span a no-op, so instrumentation is opt-in.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer builds a Tracer backed by the globally configured
// OpenTelemetry TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	config := defaultTracerConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Tracer{tracer: otel.Tracer(config.TracerName)}
}

// span is the handle startSpan returns; call end exactly once, typically
// via defer, to close it out and record the final error status.
type span struct {
	otel trace.Span
}

// startSpan starts a child span named name under ctx, attaching fields as
// string attributes. It is safe to call on a nil *Tracer.
func (t *Tracer) startSpan(ctx context.Context, name string, fields ...Field) (context.Context, *span) {
	if t == nil || t.tracer == nil {
		return ctx, &span{}
	}

	attrs := make([]attribute.KeyValue, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, attribute.String(f.Key, fieldValueString(f.Value)))
	}

	newCtx, otelSpan := t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...))
	return newCtx, &span{otel: otelSpan}
}

// end closes the span, recording err as a failed status when non-nil.
// Calling end more than once is harmless; only the first call has effect
// on the underlying otel span.
func (s *span) end(err error) {
	if s == nil || s.otel == nil {
		return
	}
	if err != nil {
		s.otel.RecordError(err)
		s.otel.SetStatus(codes.Error, err.Error())
	} else {
		s.otel.SetStatus(codes.Ok, "")
	}
	s.otel.End()
	s.otel = nil
}

// traceCtxBackground returns the root context a Session starts its
// top-level span from. Sessions are not handed a caller context today
// (they own a net.Conn directly, not an http.Request), so every trace
// is rooted here rather than threaded in from outside.
func traceCtxBackground() context.Context {
	return context.Background()
}

func fieldValueString(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case error:
		if value == nil {
			return ""
		}
		return value.Error()
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprint(v)
	}
}
