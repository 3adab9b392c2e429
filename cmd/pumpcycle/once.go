package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goclaw/pumpcycle/config"
	"github.com/goclaw/pumpcycle/pkg/cycle"
	"github.com/goclaw/pumpcycle/pkg/logger"
)

// runOnce drives one cycle against the plant simulator and reports the
// outcome. It exits non-zero unless the cycle completed.
func runOnce(ctx context.Context, cfg *config.Config, log logger.Logger, stdout io.Writer) int {
	cfg.Plant.Enabled = true
	cfg.Storage.Type = "memory"
	cfg.Redis.Enabled = false
	cfg.Server.GRPC.Enabled = false

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		return 1
	}
	defer a.close(context.Background())

	handle, err := a.line.StartCycle(ctx)
	if err != nil {
		log.Error("Failed to start cycle", "error", err)
		return 1
	}

	select {
	case <-handle.Done():
	case <-ctx.Done():
		handle.Cancel()
		<-handle.Done()
	}

	result := handle.Result()
	fmt.Fprintf(stdout, "Cycle %s %s after %s (last stage: %s)\n",
		result.RunID, result.Outcome, result.Duration().Round(time.Millisecond), result.LastStage)
	for _, tr := range result.Transitions {
		fmt.Fprintf(stdout, "  %-28s %s\n", tr.Stage, tr.Duration().Round(time.Millisecond))
	}
	if result.Err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", result.Err)
	}

	if result.Outcome != cycle.OutcomeCompleted {
		return 1
	}
	return 0
}
