// Command pumpcycle runs the pump cycle service for one line.
package main

// @title Pump Cycle API
// @version 1.0
// @description Controls the fill cycle of a pump line: valves, prime pump, main pump and tank level.

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /
// @schemes http

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goclaw/pumpcycle/config"
	"github.com/goclaw/pumpcycle/pkg/logger"
	"github.com/goclaw/pumpcycle/pkg/version"
)

type options struct {
	configPath string
	version    bool
	help       bool
	once       bool

	// CLI overrides
	appName  string
	line     string
	port     int
	logLevel string
	debug    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	opts := &options{}
	fs := flag.NewFlagSet("pumpcycle", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&opts.version, "version", false, "Print version information")
	fs.BoolVar(&opts.help, "help", false, "Print help information")
	fs.BoolVar(&opts.once, "once", false, "Run a single simulated cycle, print the outcome and exit")

	fs.StringVar(&opts.appName, "app-name", "", "Override app name")
	fs.StringVar(&opts.line, "line", "", "Override line name")
	fs.IntVar(&opts.port, "port", 0, "Override server port")
	fs.StringVar(&opts.logLevel, "log-level", "", "Override log level")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug mode")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return opts, fs, nil
}

// run is main without the process exit, returning the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, fs, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.help {
		printHelp(stdout, fs)
		return 0
	}
	if opts.version {
		printVersion(stdout)
		return 0
	}

	cfg, err := config.Load(opts.configPath, opts.overrides())
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration:\n%s\n", err)
		return 1
	}

	log := newLogger(cfg, opts.debug, stderr)
	defer log.Close()
	logger.SetGlobal(log)

	if opts.once {
		return runOnce(ctx, cfg, log, stdout)
	}

	log.Info("Starting pump cycle service", append(version.LogFields(),
		"app", cfg.App.Name,
		"line", cfg.App.Line,
		"environment", cfg.App.Environment,
	)...)
	log.Debug("Configuration loaded", "config", cfg.String())

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		return 1
	}

	if opts.configPath != "" {
		stopWatch := watchConfig(ctx, opts.configPath, opts.overrides(), a)
		defer stopWatch()
	}

	serveErr := a.serve(ctx)
	a.shutdown()
	if serveErr != nil {
		return 1
	}
	log.Info("Pump cycle service stopped gracefully")
	return 0
}

func (o *options) overrides() map[string]any {
	overrides := make(map[string]any)
	if o.appName != "" {
		overrides["app.name"] = o.appName
	}
	if o.line != "" {
		overrides["app.line"] = o.line
	}
	if o.port != 0 {
		overrides["server.port"] = o.port
	}
	if o.logLevel != "" {
		overrides["log.level"] = o.logLevel
	}
	if o.debug {
		overrides["app.debug"] = true
	}
	return overrides
}

// newLogger builds the process logger. Output "stderr" goes to the given
// writer so tests can capture it.
func newLogger(cfg *config.Config, debug bool, stderr io.Writer) logger.Logger {
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.Log.Output == "stderr" {
		logCfg.Writer = stderr
	}
	if cfg.App.Debug || debug {
		logCfg.Level = logger.DebugLevel
	}
	return logger.New(logCfg)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "Pumpcycle - Pump Line Cycle Controller\n")
	fmt.Fprintf(w, "Version:    %s\n", version.Version)
	fmt.Fprintf(w, "Build Time: %s\n", version.BuildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", version.GitCommit)
	fmt.Fprintf(w, "Go Version: %s\n", version.GoVersion)
}

func printHelp(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Pumpcycle - sequences the fill cycle of a pump line\n\n")
	fmt.Fprintf(w, "Usage: pumpcycle [options]\n\n")
	fmt.Fprintf(w, "Options:\n")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  pumpcycle                                 # Run with default config\n")
	fmt.Fprintf(w, "  pumpcycle -config config.yaml             # Use specific config file\n")
	fmt.Fprintf(w, "  pumpcycle -port 9000 -log-level debug     # Override specific options\n")
	fmt.Fprintf(w, "  pumpcycle -once -config demo.yaml         # Run one simulated cycle\n")
	fmt.Fprintf(w, "  pumpcycle -version                        # Print version info\n")
}
