package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"civic-mesh/pkg/monitoring"
)

type staticReporter struct{ status string }

func (r *staticReporter) Report(context.Context) *monitoring.HealthReport {
	return &monitoring.HealthReport{Status: r.status}
}

func TestHealthServer_Sync(t *testing.T) {
	rep := &staticReporter{status: monitoring.StatusOK}
	hs := NewHealthServer(rep, "civic-mesh", nil)
	ctx := context.Background()

	st, err := hs.Check(ctx, "civic-mesh")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, st)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hs.Sync(ctx))
	st, _ = hs.Check(ctx, "civic-mesh")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	rep.status = monitoring.StatusDegraded
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, hs.Sync(ctx))
	st, _ = hs.Check(ctx, "")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st, "process liveness is independent of dependencies")

	_, err = hs.Check(ctx, "unknown")
	assert.Error(t, err)

	hs.Shutdown()
	st, _ = hs.Check(ctx, "")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)
}

func TestStart_ServesHealth(t *testing.T) {
	hs := NewHealthServer(&staticReporter{status: monitoring.StatusOK}, "civic-mesh", nil).WithInterval(10 * time.Millisecond)
	r, err := Start(0, hs)
	require.NoError(t, err)
	defer r.GracefulStop()

	conn, err := grpc.NewClient("passthrough:///"+r.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "civic-mesh"})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 3*time.Second, 20*time.Millisecond)
}
