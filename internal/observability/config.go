// Package observability provides OpenTelemetry-based tracing, metrics, and
// structured logging for the sparse-database assembler, local to a single
// rank process.
package observability

import "log/slog"

// Mode identifies how the assembler process was launched.
type Mode string

const (
	// ModeCLI is the sparsedb-assemble CLI driving a local simulation.
	ModeCLI Mode = "cli"
	// ModeRank is an in-process simulated rank spawned by SimCohort.
	ModeRank Mode = "rank"
)

const (
	// defaultServiceName is the default OTel resource service name.
	defaultServiceName = "sparsedb-core"

	// defaultShutdownTimeoutSec is the default shutdown timeout in seconds.
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration for a rank process.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the semantic version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment (e.g. "production", "dev").
	Environment string

	// Mode identifies how the process was launched.
	Mode Mode

	// RankID is attached to every span and log record so a multi-rank
	// simulation's output can be told apart.
	RankID int

	// DebugTrace forces 100% trace sampling when true.
	DebugTrace bool

	// SampleRatio is the trace sampling ratio (0.0 to 1.0) when DebugTrace is false.
	SampleRatio float64

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// LogJSON enables JSON-formatted log output.
	LogJSON bool

	// ShutdownTimeoutSec is the maximum seconds to wait for flush on shutdown.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config with sensible defaults for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
