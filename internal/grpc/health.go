package grpc

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name the cart API reports under in grpc.health.v1.
const ServiceName = "cart.CartAPI"

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker pings the cart's backing services and publishes the result
// through the standard gRPC health service.
type HealthChecker struct {
	server   *health.Server
	deps     map[string]Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewHealthChecker(deps map[string]Pinger, interval time.Duration, log *zap.Logger) *HealthChecker {
	if log == nil {
		log = zap.NewNop()
	}
	h := &HealthChecker{
		server:   health.NewServer(),
		deps:     deps,
		interval: interval,
		timeout:  2 * time.Second,
		logger:   log,
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Check pings every dependency once and updates the serving status.
func (h *HealthChecker) Check(ctx context.Context) bool {
	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.deps[name].Ping(pingCtx)
		cancel()
		if err != nil {
			h.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			healthy = false
		}
	}

	if healthy {
		h.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return healthy
}

// Run checks on every tick until ctx is done, then marks the service as
// shutting down so clients drain.
func (h *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

func (h *HealthChecker) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}

// NewServer builds the gRPC server exposing health and reflection.
func NewServer(h *HealthChecker, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h.server)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(srv)
	return srv
}
