package middleware

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/syncroom-dev/syncroom/pkg/coordinator"
)

// Default tracer name for syncroom servers.
const defaultTracerName = "syncroom"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "syncroom").
	TracerName string

	// IncludeUserID includes the user ID in traces if available.
	// May contain sensitive information - disabled by default.
	IncludeUserID bool

	// Filter determines which envelopes to trace.
	// Return true to trace the envelope, false to skip.
	// If nil, all envelopes are traced.
	Filter func(ctx *coordinator.Ctx) bool

	// AttributeExtractor extracts custom attributes from the context.
	// Called for each traced envelope.
	AttributeExtractor func(ctx *coordinator.Ctx) []attribute.KeyValue

	// tracer is the resolved tracer instance.
	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithIncludeUserID enables including user ID in traces.
func WithIncludeUserID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeUserID = include
	}
}

// WithEnvelopeFilter sets a filter function for envelopes.
func WithEnvelopeFilter(filter func(ctx *coordinator.Ctx) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(ctx *coordinator.Ctx) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// defaultOTelConfig returns the default OpenTelemetry configuration.
func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName:    defaultTracerName,
		IncludeUserID: false,
		Filter:        nil,
	}
}

// OpenTelemetry creates middleware that traces every routed envelope.
//
// The middleware:
//   - Creates a span per envelope named after its message type
//   - Records the connection, document, and envelope IDs as attributes
//   - Injects trace context into ctx.Context() for downstream calls
//   - Records errors and sets span status
//
// Example:
//
//	coord.Use(middleware.OpenTelemetry(
//	    middleware.WithTracerName("my-app"),
//	    middleware.WithIncludeUserID(true),
//	))
//
// The tracer uses the global OpenTelemetry tracer provider. Configure it
// in your main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(
//	    sdktrace.WithBatcher(exporter),
//	    sdktrace.WithResource(resource.NewWithAttributes(
//	        semconv.SchemaURL,
//	        semconv.ServiceName("my-app"),
//	    )),
//	)
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) coordinator.Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	// Resolve tracer from global provider
	config.tracer = otel.Tracer(config.TracerName)

	return coordinator.MiddlewareFunc(func(ctx *coordinator.Ctx, next func() error) error {
		// Apply filter if configured
		if config.Filter != nil && !config.Filter(ctx) {
			return next()
		}

		spanName := fmt.Sprintf("syncroom.%s", ctx.Type())

		attrs := []attribute.KeyValue{
			attribute.String("syncroom.envelope_type", string(ctx.Type())),
			attribute.String("syncroom.envelope_id", ctx.Envelope().ID),
		}

		if conn := ctx.Connection(); conn != nil {
			attrs = append(attrs, attribute.String("syncroom.connection_id", conn.ID))
			if config.IncludeUserID {
				attrs = append(attrs, attribute.String("syncroom.user_id", conn.UserID))
			}
		}

		if doc := ctx.DocumentID(); doc != "" {
			attrs = append(attrs, attribute.String("syncroom.document_id", doc))
		}

		// Add custom attributes
		if config.AttributeExtractor != nil {
			attrs = append(attrs, config.AttributeExtractor(ctx)...)
		}

		spanCtx, span := config.tracer.Start(
			ctx.Context(),
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
			trace.WithTimestamp(time.Now()),
		)
		defer span.End()

		// Inject trace context so handlers and later middleware can
		// access it via ctx.Context() or middleware.SpanFromContext(ctx)
		ctx.SetValue(spanContextKey{}, spanCtx)
		ctx.SetContext(spanCtx)

		err := next()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	})
}

// spanContextKey is the key for storing the span context in Ctx values.
type spanContextKey struct{}

// SpanFromContext retrieves the current trace span from the context.
// Returns nil if no span is available.
//
// Example:
//
//	func(ctx *coordinator.Ctx, next func() error) error {
//	    if span := middleware.SpanFromContext(ctx); span != nil {
//	        span.SetAttributes(attribute.Int("my.count", 42))
//	    }
//	    return next()
//	}
func SpanFromContext(ctx *coordinator.Ctx) trace.Span {
	if spanCtx, ok := ctx.Value(spanContextKey{}).(context.Context); ok {
		return trace.SpanFromContext(spanCtx)
	}
	return nil
}

// TraceContext returns the trace context from the Ctx for propagation.
// Use this to propagate trace context to external services.
func TraceContext(ctx *coordinator.Ctx) context.Context {
	if spanCtx, ok := ctx.Value(spanContextKey{}).(context.Context); ok {
		return spanCtx
	}
	return ctx.Context()
}
