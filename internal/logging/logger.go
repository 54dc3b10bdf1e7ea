// Package logging builds the zap loggers used across vecport. Every log
// entry is also counted in Prometheus so a run's error volume shows up
// next to its record throughput.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecport_log_entries_total",
			Help: "Total number of log entries by level",
		},
		[]string{"level"},
	)

	LogErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vecport_log_errors_total",
			Help: "Total number of error log entries",
		},
	)
)

// Config selects the output format and the minimum level. Output defaults
// to stdout; tests point it at a buffer.
type Config struct {
	Format string
	Level  string
	Output zapcore.WriteSyncer
}

func DefaultConfig() Config {
	return Config{
		Format: "json",
		Level:  "info",
		Output: os.Stdout,
	}
}

// NewLogger builds a caller-annotated logger whose entries feed the
// logging counters above.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	default:
		// JSON for anything else, including the empty string.
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(ec)
	}

	core := &countingCore{Core: zapcore.NewCore(encoder, output, level)}
	return zap.New(core, zap.AddCaller()), nil
}

// ForRun scopes a logger to one export or import run so every entry
// carries the run id and vendor without repeating them at each call site.
func ForRun(base *zap.Logger, runID, vendor string) *zap.Logger {
	return base.With(zap.String("run_id", runID), zap.String("vendor", vendor))
}

// DiscardLogger returns a logger that drops everything. Tests use it.
func DiscardLogger() *zap.Logger {
	return zap.NewNop()
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// countingCore wraps a zapcore.Core and bumps the Prometheus counters on
// every written entry.
type countingCore struct {
	zapcore.Core
}

func (c *countingCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *countingCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	LogEntriesTotal.WithLabelValues(entry.Level.String()).Inc()
	if entry.Level >= zapcore.ErrorLevel {
		LogErrorsTotal.Inc()
	}
	return c.Core.Write(entry, fields)
}

func (c *countingCore) With(fields []zapcore.Field) zapcore.Core {
	return &countingCore{Core: c.Core.With(fields)}
}
