package interceptors

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Metrics holds Prometheus collectors for gRPC instrumentation.
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	inflight       *prometheus.GaugeVec
	errors         *prometheus.CounterVec
	streamMessages *prometheus.CounterVec
	streamDuration *prometheus.HistogramVec
	streamErrors   *prometheus.CounterVec
}

// NewMetrics creates gRPC metrics on registerer, which is normally the
// service registry so they are served from /metrics next to the cycle
// metrics. Collectors already registered are reused.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpcycle_grpc_requests_total",
				Help: "Total number of gRPC requests.",
			},
			[]string{"method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pumpcycle_grpc_request_duration_seconds",
				Help:    "Duration of gRPC requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		inflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pumpcycle_grpc_in_flight",
				Help: "In-flight gRPC requests.",
			},
			[]string{"method"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpcycle_grpc_errors_total",
				Help: "Total number of gRPC errors.",
			},
			[]string{"method", "code"},
		),
		streamMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpcycle_grpc_stream_messages_total",
				Help: "Total number of gRPC stream messages.",
			},
			[]string{"method", "direction"},
		),
		streamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pumpcycle_grpc_stream_duration_seconds",
				Help:    "Duration of gRPC streams.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		streamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumpcycle_grpc_stream_errors_total",
				Help: "Total number of gRPC stream errors.",
			},
			[]string{"method", "code"},
		),
	}

	m.requests = register(registerer, m.requests)
	m.duration = register(registerer, m.duration)
	m.inflight = register(registerer, m.inflight)
	m.errors = register(registerer, m.errors)
	m.streamMessages = register(registerer, m.streamMessages)
	m.streamDuration = register(registerer, m.streamDuration)
	m.streamErrors = register(registerer, m.streamErrors)

	return m
}

// MetricsUnaryInterceptor collects metrics for unary RPCs.
func MetricsUnaryInterceptor(metrics *Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		metrics.inflight.WithLabelValues(info.FullMethod).Inc()
		defer metrics.inflight.WithLabelValues(info.FullMethod).Dec()

		resp, err := handler(ctx, req)
		code := status.Code(err)

		metrics.requests.WithLabelValues(info.FullMethod, code.String()).Inc()
		metrics.duration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.errors.WithLabelValues(info.FullMethod, code.String()).Inc()
		}

		return resp, err
	}
}

// MetricsStreamInterceptor collects metrics for streaming RPCs.
func MetricsStreamInterceptor(metrics *Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		metrics.inflight.WithLabelValues(info.FullMethod).Inc()
		defer metrics.inflight.WithLabelValues(info.FullMethod).Dec()

		wrapped := &metricsServerStream{ServerStream: ss}
		err := handler(srv, wrapped)
		code := status.Code(err)

		metrics.streamDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		metrics.streamMessages.WithLabelValues(info.FullMethod, "recv").Add(float64(wrapped.recvCount))
		metrics.streamMessages.WithLabelValues(info.FullMethod, "sent").Add(float64(wrapped.sendCount))
		if err != nil {
			metrics.streamErrors.WithLabelValues(info.FullMethod, code.String()).Inc()
		}

		return err
	}
}

type metricsServerStream struct {
	grpc.ServerStream
	recvCount int64
	sendCount int64
}

func (s *metricsServerStream) RecvMsg(m any) error {
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	s.recvCount++
	return nil
}

func (s *metricsServerStream) SendMsg(m any) error {
	if err := s.ServerStream.SendMsg(m); err != nil {
		return err
	}
	s.sendCount++
	return nil
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	err := registerer.Register(collector)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing
		}
	}
	return collector
}
