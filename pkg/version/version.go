// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/goclaw/pumpcycle/pkg/version.Version=v1.2.0"
package version

import "runtime"

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// LogFields returns the build metadata as logger key-value pairs.
func LogFields() []any {
	return []any{
		"version", Version,
		"buildTime", BuildTime,
		"gitCommit", GitCommit,
	}
}
