package grpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestProbeServing(t *testing.T) {
	addr, _ := startHealthServer(t, "motion")

	if err := Probe(context.Background(), addr, 2*time.Second, nil); err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestProbeNotServingReturnsHealthStage(t *testing.T) {
	addr, setStatus := startHealthServer(t)
	setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	err := Probe(context.Background(), addr, 300*time.Millisecond, nil)
	if err == nil {
		t.Fatal("expected probe error")
	}
	var probeErr *ProbeError
	if !errors.As(err, &probeErr) {
		t.Fatalf("expected ProbeError, got %T", err)
	}
	if probeErr.Stage != ProbeStageHealth {
		t.Fatalf("stage = %q, want %q", probeErr.Stage, ProbeStageHealth)
	}
}

func TestProbeTimeoutBoundsWait(t *testing.T) {
	addr, setStatus := startHealthServer(t)
	setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	start := time.Now()
	if err := Probe(context.Background(), addr, 150*time.Millisecond, nil); err == nil {
		t.Fatal("expected probe error")
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Fatalf("expected timeout to bound probe, took %v", elapsed)
	}
}

func TestWaitForHealthTransitionsToServing(t *testing.T) {
	addr, setStatus := startHealthServer(t)
	setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	conn, err := gogrpc.NewClient(addr, gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer conn.Close()

	go func() {
		time.Sleep(150 * time.Millisecond)
		setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var logged []string
	logf := func(format string, args ...any) { logged = append(logged, format) }
	if err := WaitForHealth(ctx, conn, "", logf); err != nil {
		t.Fatalf("wait for health after transition: %v", err)
	}
	if len(logged) == 0 {
		t.Fatal("expected waiting to be logged before SERVING")
	}
}

func TestWaitForHealthRequiresConn(t *testing.T) {
	if err := WaitForHealth(context.Background(), nil, "", nil); err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestProbeErrorFormatting(t *testing.T) {
	wrapped := &ProbeError{Stage: ProbeStageConnect, Err: errors.New("boom")}
	if !strings.Contains(wrapped.Error(), "gRPC connect") {
		t.Fatalf("unexpected error: %s", wrapped.Error())
	}
	if wrapped.Unwrap() == nil {
		t.Fatal("expected wrapped error")
	}

	var nilErr *ProbeError
	if nilErr.Error() == "" {
		t.Fatal("expected fallback error message")
	}
	if nilErr.Unwrap() != nil {
		t.Fatal("expected nil unwrap for nil error")
	}
}

func startHealthServer(t *testing.T, services ...string) (string, func(grpc_health_v1.HealthCheckResponse_ServingStatus)) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	grpcServer, healthServer := NewHealthServer(services...)
	go func() {
		_ = grpcServer.Serve(listener)
	}()
	t.Cleanup(grpcServer.Stop)

	setStatus := func(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
		healthServer.SetServingStatus("", status)
	}
	return listener.Addr().String(), setStatus
}
