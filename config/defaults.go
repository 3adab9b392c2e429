package config

import "time"

// DefaultConfig returns a Config with sensible defaults. Cycle durations are
// the development values of the reference installation.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "pumpcycle",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
			Line:        "line-1",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			GRPC: GRPCConfig{
				Enabled:          false,
				Port:             9090,
				MaxRecvMsgSize:   4 * 1024 * 1024, // 4MB
				EnableReflection: false,
				HealthInterval:   time.Second,
			},
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 10 * time.Second,
				RequestTimeout:  15 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
				MaxAge:         300,
			},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   10,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cycle: CycleConfig{
			CloseValvesTimeout:   3200 * time.Millisecond,
			PrimeTimeout:         0,
			PumpTimeout:          0,
			PrimeDelay:           5 * time.Second,
			PressureMonitorDelay: 30 * time.Second,
			PostPumpValveDelay:   60 * time.Second,
		},
		Plant: PlantConfig{
			Enabled:         true,
			PressureLow:     false,
			Valve1CloseTime: 10 * time.Millisecond,
			Valve2CloseTime: 10 * time.Millisecond,
			ValveOpenTime:   10 * time.Millisecond,
			PrimeTime:       10 * time.Millisecond,
			PumpTime:        10 * time.Millisecond,
		},
		Storage: StorageConfig{
			Type: "memory",
			Memory: MemoryStorageConfig{
				MaxRuns: 1000,
			},
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  1 << 26, // 64MB
				NumVersionsToKeep: 1,
			},
			SQLite: SQLiteConfig{
				Path: "./data/pumpcycle.db",
			},
		},
		Redis: RedisConfig{
			Enabled:      false,
			Address:      "localhost:6379",
			DB:           0,
			KeyPrefix:    "pumpcycle:",
			BufferSize:   256,
			ListenInputs: false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
	}
}
