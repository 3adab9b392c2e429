package grpc

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/goclaw/pumpcycle/pkg/logger"
)

// ServiceName is the health service name reported for the pump line, next
// to the overall "" entry.
const ServiceName = "pumpcycle.Line"

// HealthChecker reports whether the line can run cycles.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// HealthServer wraps the standard health server and mirrors the line's
// health into it.
type HealthServer struct {
	server *health.Server
	log    logger.Logger

	mu      sync.Mutex
	serving *bool
}

// NewHealthServer creates a health server reporting SERVING until the first
// check.
func NewHealthServer(log logger.Logger) *HealthServer {
	if log == nil {
		log = logger.Nop()
	}
	h := &HealthServer{server: health.NewServer(), log: log}
	h.setAll(grpc_health_v1.HealthCheckResponse_SERVING)
	return h
}

// Update sets the serving status from one health observation and logs
// transitions.
func (h *HealthServer) Update(healthy bool) {
	h.mu.Lock()
	changed := h.serving == nil || *h.serving != healthy
	h.serving = &healthy
	h.mu.Unlock()

	if !changed {
		return
	}
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !healthy {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.setAll(status)
	h.log.Info("gRPC health changed", "status", status.String())
}

// Watch polls checker every interval until ctx is cancelled.
func (h *HealthServer) Watch(ctx context.Context, checker HealthChecker, interval time.Duration) {
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		h.Update(checker.Healthy(checkCtx))
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func (h *HealthServer) setAll(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}

// Shutdown sets every service to NOT_SERVING and ignores later updates.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

// GetServer returns the underlying health server for registration.
func (h *HealthServer) GetServer() *health.Server {
	return h.server
}
