package instrumentation

import (
	"context"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if inst.Metrics() == nil {
		t.Error("Metrics() should not be nil")
	}
	if inst.MeterProvider() == nil {
		t.Error("MeterProvider() should not be nil")
	}
	if inst.TracerProvider() == nil {
		t.Error("TracerProvider() should not be nil")
	}
}

func TestNew_Disabled(t *testing.T) {
	inst, err := New(Config{Enabled: false, ServiceName: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Recording through no-op providers must not panic
	ctx := context.Background()
	m := inst.Metrics()
	m.RecordLoginStarted(ctx, "x")
	m.RecordCallbackProcessed(ctx, true)
	m.RecordCodeExchange(ctx, "x")
	m.RecordTokenRefresh(ctx, false)
	m.RecordRefreshSkipped(ctx)
	m.RecordLinkingFallback(ctx)
	m.RecordCsrfMismatch(ctx)
	m.RecordCodeReplay(ctx)
	m.RecordHTTPRequest(ctx, "POST", "/auth/exchange", 200, 12.5)
	m.RecordProviderAPICall(ctx, "x", "exchange", 502, 100, context.DeadlineExceeded)
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestShouldLogClientIPs(t *testing.T) {
	inst, err := New(Config{LogClientIPs: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !inst.ShouldLogClientIPs() {
		t.Error("ShouldLogClientIPs() = false, want true")
	}
}
