package main

import (
	"context"
	"errors"
	"sync"

	"github.com/goclaw/pumpcycle/config"
	"github.com/goclaw/pumpcycle/pkg/logger"
)

// watchConfig applies hot-reloadable settings whenever the config file
// changes. The returned func stops the watcher.
func watchConfig(ctx context.Context, path string, overrides map[string]any, a *app) func() {
	watcher, err := config.NewWatcher(path, config.NewLoader(),
		config.WithWatcherLogger(a.log),
		config.WithOverrides(overrides),
	)
	if err != nil {
		a.log.Warn("Config hot reload disabled", "error", err)
		return func() {}
	}

	var mu sync.Mutex
	current := config.ExtractHotReloadable(a.cfg)
	watcher.OnChange(func(next *config.Config) {
		mu.Lock()
		defer mu.Unlock()

		hot := config.ExtractHotReloadable(next)
		if !hot.Changed(current) {
			return
		}
		if err := a.applyReload(hot); err != nil {
			a.log.Warn("Config reload rejected", "error", err)
			return
		}
		current = hot
	})

	go func() {
		if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("Config watcher stopped", "error", err)
		}
	}()
	return func() { _ = watcher.Stop() }
}

// applyReload pushes new settings into the running components. Cycle
// durations take effect from the next run.
func (a *app) applyReload(hot config.HotReloadableConfig) error {
	if err := a.line.UpdateConfig(hot.Cycle.ToCycleConfig()); err != nil {
		return err
	}
	if a.plant != nil {
		a.plant.SetPressureLow(hot.PressureLow)
	}
	if !a.cfg.App.Debug {
		a.log.SetLevel(logger.ParseLevel(hot.LogLevel))
	}
	a.log.Info("Applied configuration reload",
		"log_level", hot.LogLevel,
		"pressure_low", hot.PressureLow,
	)
	return nil
}
