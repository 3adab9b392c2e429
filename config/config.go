// Package config provides configuration management for the pump cycle service.
package config

import (
	"fmt"
	"time"

	"github.com/goclaw/pumpcycle/pkg/cycle"
	"github.com/goclaw/pumpcycle/pkg/plant"
)

// Config is the global configuration of the service.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Cycle holds the sequencer durations.
	Cycle CycleConfig `mapstructure:"cycle"`

	// Plant is the plant simulator configuration.
	Plant PlantConfig `mapstructure:"plant"`

	// Storage is the run history configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Redis is the signal mirror configuration.
	Redis RedisConfig `mapstructure:"redis"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`

	// Line names the pump line this process controls.
	Line string `mapstructure:"line" validate:"required"`
}

// ServerConfig holds the HTTP/gRPC server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// GRPC is the gRPC health server configuration.
	GRPC GRPCConfig `mapstructure:"grpc"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`

	// RateLimit limits manual input writes.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// GRPCConfig holds gRPC-specific settings.
type GRPCConfig struct {
	// Enabled enables the gRPC server.
	Enabled bool `mapstructure:"enabled"`

	// Port is the gRPC server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// MaxRecvMsgSize is the maximum message size the server can receive (bytes).
	MaxRecvMsgSize int `mapstructure:"max_recv_msg_size" validate:"min=0"`

	// EnableReflection enables gRPC server reflection for debugging.
	EnableReflection bool `mapstructure:"enable_reflection"`

	// HealthInterval is how often the health status is refreshed from the line.
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequestTimeout bounds non-streaming handlers.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// RateLimitConfig is a token bucket per client.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps" validate:"min=0"`
	Burst   int     `mapstructure:"burst" validate:"min=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// CycleConfig holds the sequencer durations. Zero means no wait for the
// delays and no deadline for the timeouts.
type CycleConfig struct {
	CloseValvesTimeout   time.Duration `mapstructure:"close_valves_timeout" validate:"min=0"`
	PrimeTimeout         time.Duration `mapstructure:"prime_timeout" validate:"min=0"`
	PumpTimeout          time.Duration `mapstructure:"pump_timeout" validate:"min=0"`
	PrimeDelay           time.Duration `mapstructure:"prime_delay" validate:"min=0"`
	PressureMonitorDelay time.Duration `mapstructure:"pressure_monitor_delay" validate:"min=0"`
	PostPumpValveDelay   time.Duration `mapstructure:"post_pump_valve_delay" validate:"min=0"`
}

// ToCycleConfig converts to the sequencer's config type.
func (c CycleConfig) ToCycleConfig() cycle.Config {
	return cycle.Config{
		CloseValvesTimeout:   c.CloseValvesTimeout,
		PrimeTimeout:         c.PrimeTimeout,
		PumpTimeout:          c.PumpTimeout,
		PrimeDelay:           c.PrimeDelay,
		PressureMonitorDelay: c.PressureMonitorDelay,
		PostPumpValveDelay:   c.PostPumpValveDelay,
	}
}

// PlantConfig holds the plant simulator settings.
type PlantConfig struct {
	// Enabled attaches the simulator to every run.
	Enabled bool `mapstructure:"enabled"`

	// PressureLow makes the simulator report low pressure once pumping starts.
	PressureLow bool `mapstructure:"pressure_low"`

	Valve1CloseTime time.Duration `mapstructure:"valve1_close_time" validate:"min=0"`
	Valve2CloseTime time.Duration `mapstructure:"valve2_close_time" validate:"min=0"`
	ValveOpenTime   time.Duration `mapstructure:"valve_open_time" validate:"min=0"`
	PrimeTime       time.Duration `mapstructure:"prime_time" validate:"min=0"`
	PumpTime        time.Duration `mapstructure:"pump_time" validate:"min=0"`
}

// Times converts to the simulator's process times.
func (p PlantConfig) Times() plant.Times {
	return plant.Times{
		Valve1Close: p.Valve1CloseTime,
		Valve2Close: p.Valve2CloseTime,
		ValveOpen:   p.ValveOpenTime,
		Prime:       p.PrimeTime,
		Pump:        p.PumpTime,
	}
}

// StorageConfig holds run history settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger, sqlite).
	Type string `mapstructure:"type" validate:"oneof=memory badger sqlite"`

	// Memory is the in-memory backend configuration.
	Memory MemoryStorageConfig `mapstructure:"memory"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// SQLite is the SQLite configuration.
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// MemoryStorageConfig holds in-memory backend settings.
type MemoryStorageConfig struct {
	// MaxRuns caps the number of retained runs. Zero keeps everything.
	MaxRuns int `mapstructure:"max_runs" validate:"min=0"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	// Path is the database file, or ":memory:".
	Path string `mapstructure:"path"`
}

// RedisConfig holds the signal mirror settings.
type RedisConfig struct {
	// Enabled turns the mirror on.
	Enabled bool `mapstructure:"enabled"`

	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// KeyPrefix prefixes the line hash and channels.
	KeyPrefix string `mapstructure:"key_prefix"`

	// BufferSize is the mirror's write queue length.
	BufferSize int `mapstructure:"buffer_size" validate:"min=0"`

	// ListenInputs applies input writes published on the inputs channel.
	ListenInputs bool `mapstructure:"listen_inputs"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the exporter kind (otlp).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlp"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Headers are sent with every export request.
	Headers map[string]string `mapstructure:"headers"`

	// Timeout bounds each export.
	Timeout time.Duration `mapstructure:"timeout"`

	// Sampler is always_on, always_off or parentbased_traceidratio.
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=always_on always_off parentbased_traceidratio"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Line: %s, Server: :%d, Env: %s, Storage: %s}",
		c.App.Name, c.App.Line, c.Server.Port, c.App.Environment, c.Storage.Type)
}
