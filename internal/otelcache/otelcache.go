// Package otelcache wires OpenTelemetry tracing off the cache's event bus.
// Grounded on internal/otel/otel.go's Setup/subscriber/register shape, with
// the HTTP/gRPC/GraphQL-server span triad replaced by a span per operation
// plus one standalone span per write commit, layer resolution and
// reexecution event (spec.md §2 ambient tracing, SPEC_FULL.md §2.1).
package otelcache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/graphcache/graphcache/internal/eventbus"
	"github.com/graphcache/graphcache/internal/events"
)

// Setup configures OpenTelemetry and attaches bus subscribers that turn
// operation/layer events into spans. If endpoint is empty, tracing is a
// no-op and Setup never dials anything.
func Setup(bus *eventbus.Bus, endpoint, service string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("graphcache")}
	sub.register(bus)

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer trace.Tracer
	spans  sync.Map // operationKey -> trace.Span
}

func (s *subscriber) register(bus *eventbus.Bus) {
	eventbus.Subscribe(bus, func(ctx context.Context, e events.OperationStart) {
		_, span := s.tracer.Start(ctx, "graphcache.operation")
		span.SetAttributes(
			attribute.String("graphcache.operation.key", e.OperationKey),
			attribute.String("graphcache.operation.type", e.OperationType),
			attribute.String("graphcache.operation.name", e.OperationName),
		)
		s.spans.Store(e.OperationKey, span)
	})

	eventbus.Subscribe(bus, func(ctx context.Context, e events.OperationFinish) {
		v, ok := s.spans.LoadAndDelete(e.OperationKey)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.String("graphcache.outcome", e.Outcome),
			attribute.Int64("graphcache.duration_ms", e.Duration.Milliseconds()),
		)
		span.End()
	})

	eventbus.Subscribe(bus, func(ctx context.Context, e events.WriteCommit) {
		_, span := s.tracer.Start(ctx, "graphcache.write_commit")
		span.SetAttributes(
			attribute.String("graphcache.operation.key", e.OperationKey),
			attribute.Int("graphcache.touched_entities", e.TouchedEntities),
			attribute.StringSlice("graphcache.invalidated_types", e.InvalidatedTypes),
		)
		span.End()
	})

	eventbus.Subscribe(bus, func(ctx context.Context, e events.LayerResolved) {
		_, span := s.tracer.Start(ctx, "graphcache.layer_resolved")
		span.SetAttributes(
			attribute.String("graphcache.layer.name", e.LayerName),
			attribute.String("graphcache.layer.kind", e.LayerKind),
			attribute.Bool("graphcache.layer.committed", e.Committed),
		)
		span.End()
	})

	eventbus.Subscribe(bus, func(ctx context.Context, e events.Reexecute) {
		_, span := s.tracer.Start(ctx, "graphcache.reexecute")
		span.SetAttributes(
			attribute.String("graphcache.triggering_operation", e.TriggeringOperationKey),
			attribute.String("graphcache.reexecuted_operation", e.ReexecutedOperationKey),
			attribute.Int64("graphcache.generation", int64(e.Generation)),
		)
		span.End()
	})
}
