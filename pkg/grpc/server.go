// Package grpc serves the standard gRPC health service for a pump line.
package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/goclaw/pumpcycle/pkg/grpc/interceptors"
	"github.com/goclaw/pumpcycle/pkg/logger"
)

// Server is a gRPC server exposing line health.
type Server struct {
	config   *Config
	log      logger.Logger
	checker  HealthChecker
	registry prometheus.Registerer

	mu        sync.RWMutex
	grpcSrv   *grpc.Server
	listener  net.Listener
	health    *HealthServer
	stopWatch context.CancelFunc
	watchDone chan struct{}
	running   bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithHealthChecker makes the health status follow checker.
func WithHealthChecker(checker HealthChecker) Option {
	return func(s *Server) {
		s.checker = checker
	}
}

// WithMetricsRegisterer registers RPC metrics on r.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// New creates a server. It does not listen until Start.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{config: cfg, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "grpc")
	return s, nil
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	opts, err := s.buildServerOptions()
	if err != nil {
		return fmt.Errorf("failed to build server options: %w", err)
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener

	s.grpcSrv = grpc.NewServer(opts...)
	s.health = NewHealthServer(s.log)
	grpc_health_v1.RegisterHealthServer(s.grpcSrv, s.health.GetServer())
	if s.config.EnableReflection {
		reflection.Register(s.grpcSrv)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.stopWatch = cancel
	s.watchDone = make(chan struct{})
	go func() {
		defer close(s.watchDone)
		if s.checker != nil {
			s.health.Watch(watchCtx, s.checker, s.config.HealthInterval)
		}
	}()

	srv := s.grpcSrv
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("gRPC server error", "error", err)
		}
	}()

	s.running = true
	s.log.Info("gRPC server listening", "address", listener.Addr().String(),
		"reflection", s.config.EnableReflection)
	return nil
}

// Stop drains in-flight RPCs and stops the server, forcing it when ctx
// expires first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	s.stopWatch()
	<-s.watchDone
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.grpcSrv.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}

// Health returns the health server, or nil before Start.
func (s *Server) Health() *HealthServer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// Address returns the listening address once started.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// IsRunning returns whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) buildServerOptions() ([]grpc.ServerOption, error) {
	var opts []grpc.ServerOption

	if s.config.TLS != nil && s.config.TLS.Enabled {
		creds, err := s.buildTLSCredentials()
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	if s.config.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(s.config.MaxConcurrentStreams))
	}

	if ka := s.config.Keepalive; ka != nil {
		opts = append(opts,
			grpc.KeepaliveParams(keepalive.ServerParameters{
				MaxConnectionIdle: ka.MaxConnectionIdle,
				Time:              ka.Time,
				Timeout:           ka.Timeout,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             ka.MinTime,
				PermitWithoutStream: ka.PermitWithoutStream,
			}),
		)
	}

	if s.config.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.config.MaxRecvMsgSize))
	}
	if s.config.MaxSendMsgSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(s.config.MaxSendMsgSize))
	}

	chain := interceptors.NewChainBuilder().
		WithRecovery(s.log).
		WithRequestID()
	if s.config.EnableTracing {
		chain.WithTracing()
	}
	chain.WithLogging(s.log)
	if s.registry != nil {
		chain.WithMetrics(s.registry)
	}
	if s.config.RateLimitRPS > 0 {
		// Watch streams stay open for the life of a client.
		chain.WithRateLimit(interceptors.NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst,
			grpc_health_v1.Health_Watch_FullMethodName))
	}

	return append(opts, chain.Build()...), nil
}

func (s *Server) buildTLSCredentials() (credentials.TransportCredentials, error) {
	tlsCfg := s.config.TLS
	if !tlsCfg.ClientAuth {
		creds, err := credentials.NewServerTLSFromFile(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load server certificate: %w", err)
		}
		return creds, nil
	}

	cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	caCert, err := os.ReadFile(tlsCfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
