package grpc

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/goclaw/pumpcycle/config"
)

// Config holds gRPC server configuration.
type Config struct {
	// Address is the listening address (e.g. ":9090").
	Address string

	// TLS configuration; nil serves plaintext.
	TLS *TLSConfig

	// MaxConcurrentStreams limits streams per connection.
	MaxConcurrentStreams uint32

	Keepalive *KeepaliveConfig

	MaxRecvMsgSize int
	MaxSendMsgSize int

	// EnableReflection enables server reflection for grpcurl and friends.
	EnableReflection bool

	// EnableTracing adds the OpenTelemetry interceptors.
	EnableTracing bool

	// HealthInterval is how often the line is polled for health.
	HealthInterval time.Duration

	// RateLimitRPS and RateLimitBurst bound calls per peer. Zero RPS
	// disables the limiter.
	RateLimitRPS   float64
	RateLimitBurst int
}

// TLSConfig holds TLS/mTLS configuration.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string

	// CAFile verifies client certificates when ClientAuth is set.
	CAFile     string
	ClientAuth bool
}

// KeepaliveConfig holds keepalive configuration.
type KeepaliveConfig struct {
	MaxConnectionIdle time.Duration
	Time              time.Duration
	Timeout           time.Duration

	// MinTime is the minimum interval between client pings.
	MinTime             time.Duration
	PermitWithoutStream bool
}

// DefaultConfig returns a default gRPC server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:              ":9090",
		MaxConcurrentStreams: 100,
		MaxRecvMsgSize:       4 * 1024 * 1024, // 4MB
		MaxSendMsgSize:       4 * 1024 * 1024, // 4MB
		HealthInterval:       time.Second,
		RateLimitRPS:         50,
		RateLimitBurst:       100,
		Keepalive: &KeepaliveConfig{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              time.Minute,
			Timeout:           20 * time.Second,
			MinTime:           30 * time.Second,
		},
	}
}

// FromServerConfig derives the gRPC configuration from the service config.
func FromServerConfig(cfg *config.ServerConfig, tracing bool) *Config {
	out := DefaultConfig()
	out.Address = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPC.Port))
	if cfg.GRPC.MaxRecvMsgSize > 0 {
		out.MaxRecvMsgSize = cfg.GRPC.MaxRecvMsgSize
	}
	if cfg.GRPC.HealthInterval > 0 {
		out.HealthInterval = cfg.GRPC.HealthInterval
	}
	out.EnableReflection = cfg.GRPC.EnableReflection
	out.EnableTracing = tracing
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if c.MaxRecvMsgSize < 0 {
		return fmt.Errorf("max recv message size cannot be negative")
	}
	if c.MaxSendMsgSize < 0 {
		return fmt.Errorf("max send message size cannot be negative")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("health interval must be positive")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("invalid TLS config: %w", err)
		}
	}
	if c.Keepalive != nil {
		if err := c.Keepalive.Validate(); err != nil {
			return fmt.Errorf("invalid keepalive config: %w", err)
		}
	}
	return nil
}

// Validate validates TLS configuration.
func (t *TLSConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.CertFile == "" {
		return fmt.Errorf("cert file is required when TLS is enabled")
	}
	if t.KeyFile == "" {
		return fmt.Errorf("key file is required when TLS is enabled")
	}
	if t.ClientAuth && t.CAFile == "" {
		return fmt.Errorf("CA file is required when client auth is enabled")
	}
	return nil
}

// Validate validates keepalive configuration.
func (k *KeepaliveConfig) Validate() error {
	if k.MaxConnectionIdle < 0 || k.Time < 0 || k.Timeout < 0 || k.MinTime < 0 {
		return fmt.Errorf("keepalive durations cannot be negative")
	}
	if k.Timeout > 0 && k.Time > 0 && k.Timeout >= k.Time {
		return fmt.Errorf("timeout must be less than ping interval")
	}
	return nil
}
