package server

import (
	"context"
	"net"

	"github.com/PaulBabatuyi/FileVault/internal/middleware"
	"github.com/PaulBabatuyi/FileVault/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthServiceName is the service name reported by the admin health endpoint
// in addition to the overall ("") status.
const HealthServiceName = "filevault.FileVault"

// AdminServer exposes grpc.health.v1 for orchestrators and load balancers.
type AdminServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.Logger
}

func NewAdminServer(logger *zap.Logger, metrics *observability.MetricsCollector, tp trace.TracerProvider) *AdminServer {
	var otelOpts []otelgrpc.Option
	if tp != nil {
		otelOpts = append(otelOpts, otelgrpc.WithTracerProvider(tp))
	}

	unary := []grpc.UnaryServerInterceptor{middleware.UnaryLoggingInterceptor(logger)}
	stream := []grpc.StreamServerInterceptor{middleware.StreamLoggingInterceptor(logger)}
	if metrics != nil {
		srvMetrics := metrics.GetServerMetrics()
		unary = append([]grpc.UnaryServerInterceptor{srvMetrics.UnaryServerInterceptor()}, unary...)
		stream = append([]grpc.StreamServerInterceptor{srvMetrics.StreamServerInterceptor()}, stream...)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(otelOpts...)),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	if metrics != nil {
		metrics.GetServerMetrics().InitializeMetrics(grpcServer)
	}

	a := &AdminServer{grpcServer: grpcServer, health: hs, logger: logger}
	a.SetServing(false)
	return a
}

// SetServing flips the reported health of both the overall server and the file service.
func (a *AdminServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	a.health.SetServingStatus("", status)
	a.health.SetServingStatus(HealthServiceName, status)
}

// Serve blocks until the listener fails or Stop is called.
func (a *AdminServer) Serve(lis net.Listener) error {
	a.logger.Info("admin gRPC server listening", zap.String("addr", lis.Addr().String()))
	return a.grpcServer.Serve(lis)
}

// Stop reports NOT_SERVING to watchers and drains in-flight RPCs. Health
// Watch streams never finish on their own, so ctx bounds the drain.
func (a *AdminServer) Stop(ctx context.Context) {
	a.health.Shutdown()

	done := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("admin gRPC drain timed out, forcing stop")
		a.grpcServer.Stop()
	}
}
