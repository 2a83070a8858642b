package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestTracer_NilProviderUsesGlobal(t *testing.T) {
	tracer := Tracer(nil)
	if tracer == nil {
		t.Fatal("expected a tracer from the global provider")
	}
}

func TestTracer_ExplicitProvider(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(t.Context()) }()

	tracer := Tracer(tp)
	if tracer == nil {
		t.Fatal("expected a tracer")
	}
}

func TestSetupPropagation(t *testing.T) {
	SetupPropagation()
	prop := otel.GetTextMapPropagator()

	fields := prop.Fields()
	want := map[string]bool{"traceparent": false, "baggage": false}
	for _, f := range fields {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("propagator missing field %q", field)
		}
	}
	// Restore a known propagator for other tests.
	otel.SetTextMapPropagator(propagation.TraceContext{})
}
