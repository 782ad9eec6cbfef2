package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/cuerposonoro/internal/platform/otel"
)

func TestSetupNoop(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		enabled  string
	}{
		{name: "empty endpoint", endpoint: "", enabled: ""},
		{name: "blank endpoint", endpoint: "   ", enabled: ""},
		{name: "explicitly disabled", endpoint: "http://localhost:4318", enabled: "FALSE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("CUERPO_SONORO_OTEL_ENDPOINT", tc.endpoint)
			t.Setenv("CUERPO_SONORO_OTEL_ENABLED", tc.enabled)

			shutdown, err := otel.Setup(context.Background(), "motion-test")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if err := shutdown(ctx); err != nil {
				t.Fatalf("noop shutdown should ignore cancelled context: %v", err)
			}
		})
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// TEST-NET-1 address; nothing is exported before shutdown.
	t.Setenv("CUERPO_SONORO_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("CUERPO_SONORO_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "motion-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
