package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/goclaw/pumpcycle/config"
	"github.com/goclaw/pumpcycle/pkg/api"
	"github.com/goclaw/pumpcycle/pkg/api/events"
	"github.com/goclaw/pumpcycle/pkg/api/handlers"
	grpcserver "github.com/goclaw/pumpcycle/pkg/grpc"
	"github.com/goclaw/pumpcycle/pkg/line"
	"github.com/goclaw/pumpcycle/pkg/logger"
	"github.com/goclaw/pumpcycle/pkg/metrics"
	"github.com/goclaw/pumpcycle/pkg/plant"
	pumpsignal "github.com/goclaw/pumpcycle/pkg/signal"
	"github.com/goclaw/pumpcycle/pkg/storage"
	"github.com/goclaw/pumpcycle/pkg/storage/badger"
	"github.com/goclaw/pumpcycle/pkg/storage/memory"
	"github.com/goclaw/pumpcycle/pkg/storage/sqlite"
	"github.com/goclaw/pumpcycle/pkg/telemetry/tracing"
	"github.com/goclaw/pumpcycle/pkg/version"
)

// app owns every long-lived component of one pump line process.
type app struct {
	cfg *config.Config
	log logger.Logger

	tracingShutdown tracing.ShutdownFunc
	metrics         *metrics.Manager
	store           storage.RunStore
	redis           *redis.Client
	mirror          *pumpsignal.RedisMirror
	plant           *plant.Simulator
	events          *events.Broadcaster
	line            *line.Controller
	ws              *handlers.WebSocketHandler
	http            *api.HTTPServer
	grpc            *grpcserver.Server

	// listener, when set, is served instead of the configured HTTP address.
	listener net.Listener
}

// newApp builds the components in dependency order. On error everything
// built so far is released.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (a *app, err error) {
	a = &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close(context.Background())
			a = nil
		}
	}()

	a.tracingShutdown, err = tracing.Init(ctx, cfg.Tracing, tracing.Service{
		Name:    cfg.App.Name,
		Version: version.Version,
		Line:    cfg.App.Line,
	})
	if err != nil {
		return a, fmt.Errorf("init tracing: %w", err)
	}

	a.metrics = metrics.NewManager(metrics.Config{
		Enabled:              cfg.Metrics.Enabled,
		Port:                 cfg.Metrics.Port,
		Path:                 cfg.Metrics.Path,
		CycleDurationBuckets: metrics.DefaultConfig().CycleDurationBuckets,
		StageDurationBuckets: metrics.DefaultConfig().StageDurationBuckets,
		HTTPDurationBuckets:  metrics.DefaultConfig().HTTPDurationBuckets,
	})
	if a.metrics.Enabled() {
		pumpsignal.SetMetricsRecorder(a.metrics)
	}

	a.store, err = openStore(cfg.Storage)
	if err != nil {
		return a, err
	}
	log.Info("Initialized run storage", "type", cfg.Storage.Type)

	in := pumpsignal.NewInputs(pumpsignal.InitialValues{})
	opts := []line.Option{
		line.WithName(cfg.App.Line),
		line.WithLogger(log),
		line.WithStore(a.store),
		line.WithMetrics(a.metrics),
	}

	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.mirror = pumpsignal.NewRedisMirror(a.redis, cfg.Redis.KeyPrefix, cfg.App.Line, cfg.Redis.BufferSize)
		opts = append(opts, line.WithMirror(a.mirror))
		log.Info("Mirroring signals to Redis", "address", cfg.Redis.Address, "key", a.mirror.Key())
	}

	if cfg.Plant.Enabled {
		a.plant = plant.New(in,
			plant.WithTimes(cfg.Plant.Times()),
			plant.WithPressureLow(cfg.Plant.PressureLow),
			plant.WithLogger(log),
		)
		opts = append(opts, line.WithPlant(a.plant))
		log.Info("Plant simulator attached", "pressure_low", cfg.Plant.PressureLow)
	}

	a.events = events.NewBroadcaster()
	opts = append(opts, line.WithBroadcaster(a.events))

	a.line, err = line.New(in, cfg.Cycle.ToCycleConfig(), opts...)
	if err != nil {
		return a, fmt.Errorf("create line controller: %w", err)
	}

	a.ws = handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		Snapshot:       func() any { return a.line.Signals() },
	})

	apiHandlers := &api.Handlers{
		Cycle:     handlers.NewCycleHandler(a.line, log),
		Signal:    handlers.NewSignalHandler(a.line, log),
		Config:    handlers.NewConfigHandler(a.line),
		Health:    handlers.NewHealthHandler(a.line),
		WebSocket: a.ws,
	}
	if a.metrics.Enabled() {
		apiHandlers.Metrics = a.metrics
		apiHandlers.MetricsHandler = a.metrics.Handler()
	}
	a.http = api.NewHTTPServer(cfg, log, apiHandlers)

	if cfg.Server.GRPC.Enabled {
		grpcOpts := []grpcserver.Option{
			grpcserver.WithLogger(log),
			grpcserver.WithHealthChecker(a.line),
		}
		if a.metrics.Enabled() {
			grpcOpts = append(grpcOpts, grpcserver.WithMetricsRegisterer(a.metrics.Registry()))
		}
		a.grpc, err = grpcserver.New(grpcserver.FromServerConfig(&cfg.Server, cfg.Tracing.Enabled), grpcOpts...)
		if err != nil {
			return a, fmt.Errorf("create gRPC server: %w", err)
		}
	}

	return a, nil
}

func openStore(cfg config.StorageConfig) (storage.RunStore, error) {
	switch cfg.Type {
	case "badger":
		store, err := badger.NewBadgerStorage(&badger.Config{
			Path:              cfg.Badger.Path,
			SyncWrites:        cfg.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Badger.NumVersionsToKeep,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger storage: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return store, nil
	default:
		return memory.NewMemoryStorage(cfg.Memory.MaxRuns), nil
	}
}

// serve runs every server until ctx is cancelled or one of them fails, then
// shuts down gracefully.
func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 4)

	go a.ws.Run(ctx, a.events)

	if a.metrics.Enabled() && a.cfg.Metrics.Port != a.cfg.Server.Port {
		go func() {
			a.log.Info("Starting metrics server", "port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
			if err := a.metrics.StartServer(ctx, a.cfg.Metrics.Port, a.cfg.Metrics.Path); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.mirror != nil && a.cfg.Redis.ListenInputs {
		go func() {
			if err := a.line.ListenInputs(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("Redis input listener stopped", "error", err)
			}
		}()
	}

	if a.grpc != nil {
		if err := a.grpc.Start(); err != nil {
			return fmt.Errorf("start gRPC server: %w", err)
		}
	}

	go func() {
		var err error
		if a.listener != nil {
			err = a.http.Serve(a.listener)
		} else {
			err = a.http.Start()
		}
		if err != nil {
			errCh <- err
		}
	}()

	a.log.Info("Pump cycle service is running",
		"line", a.cfg.App.Line,
		"http_port", a.cfg.Server.Port,
		"grpc", grpcAddress(a.cfg),
		"metrics_port", a.cfg.Metrics.Port,
	)

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("Shutdown requested")
	case serveErr = <-errCh:
		a.log.Error("Server failed", "error", serveErr)
	}
	return serveErr
}

// shutdown stops the servers, cancels any run in flight and releases the
// backends, bounded by the configured shutdown timeout.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.HTTP.ShutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(ctx); err != nil {
		a.log.Error("Error shutting down HTTP server", "error", err)
	}
	if a.grpc != nil {
		if err := a.grpc.Stop(ctx); err != nil {
			a.log.Error("Error shutting down gRPC server", "error", err)
		}
	}
	a.close(ctx)
}

// close releases whatever newApp built. Nil components are skipped.
func (a *app) close(ctx context.Context) {
	if a.ws != nil {
		a.ws.Close()
	}
	if a.line != nil {
		if err := a.line.Close(ctx); err != nil {
			a.log.Error("Error closing line controller", "error", err)
		}
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.log.Error("Error closing Redis mirror", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("Error closing storage", "error", err)
		}
	}
	if a.metrics != nil && a.metrics.Enabled() {
		pumpsignal.SetMetricsRecorder(nil)
	}
	if a.tracingShutdown != nil {
		if err := a.tracingShutdown(ctx); err != nil {
			a.log.Error("Error shutting down tracing", "error", err)
		}
	}
}

func grpcAddress(cfg *config.Config) string {
	if !cfg.Server.GRPC.Enabled {
		return "disabled"
	}
	return net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPC.Port))
}
