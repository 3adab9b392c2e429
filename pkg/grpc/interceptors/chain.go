package interceptors

import (
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/goclaw/pumpcycle/pkg/logger"
)

// ChainBuilder collects interceptors in the order they should run.
type ChainBuilder struct {
	unary  []grpc.UnaryServerInterceptor
	stream []grpc.StreamServerInterceptor
}

// NewChainBuilder creates an empty chain.
func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{}
}

// WithRecovery adds the panic recovery interceptor. It should come first.
func (b *ChainBuilder) WithRecovery(log logger.Logger) *ChainBuilder {
	b.unary = append(b.unary, RecoveryUnaryInterceptor(log))
	b.stream = append(b.stream, RecoveryStreamInterceptor(log))
	return b
}

// WithRequestID adds the request ID interceptor.
func (b *ChainBuilder) WithRequestID() *ChainBuilder {
	b.unary = append(b.unary, RequestIDUnaryInterceptor())
	b.stream = append(b.stream, RequestIDStreamInterceptor())
	return b
}

// WithRateLimit adds per-peer rate limiting.
func (b *ChainBuilder) WithRateLimit(rl *RateLimiter) *ChainBuilder {
	b.unary = append(b.unary, RateLimitUnaryInterceptor(rl))
	b.stream = append(b.stream, RateLimitStreamInterceptor(rl))
	return b
}

// WithLogging adds the logging interceptor.
func (b *ChainBuilder) WithLogging(log logger.Logger) *ChainBuilder {
	b.unary = append(b.unary, LoggingUnaryInterceptor(log))
	b.stream = append(b.stream, LoggingStreamInterceptor(log))
	return b
}

// WithMetrics adds Prometheus instrumentation registered on registerer.
func (b *ChainBuilder) WithMetrics(registerer prometheus.Registerer) *ChainBuilder {
	m := NewMetrics(registerer)
	b.unary = append(b.unary, MetricsUnaryInterceptor(m))
	b.stream = append(b.stream, MetricsStreamInterceptor(m))
	return b
}

// WithTracing adds the tracing interceptor.
func (b *ChainBuilder) WithTracing() *ChainBuilder {
	b.unary = append(b.unary, TracingUnaryInterceptor())
	b.stream = append(b.stream, TracingStreamInterceptor())
	return b
}

// Build returns the chain as server options.
func (b *ChainBuilder) Build() []grpc.ServerOption {
	var opts []grpc.ServerOption
	if len(b.unary) > 0 {
		opts = append(opts, grpc.ChainUnaryInterceptor(b.unary...))
	}
	if len(b.stream) > 0 {
		opts = append(opts, grpc.ChainStreamInterceptor(b.stream...))
	}
	return opts
}
