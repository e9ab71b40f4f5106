// Package obs wires the execution core's logging. Structured logs are
// produced with logrus for operational events and zap for the
// high-frequency telemetry path, mirroring the split the rest of the
// stack uses between human-facing and metrics-adjacent logging.
package obs

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

type ctxKey int

const loggerKey ctxKey = iota

// NewLogger builds the primary structured logger. level is one of the
// logrus level names ("debug", "info", "warn", "error"); an unrecognized
// value falls back to info.
func NewLogger(level, file string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		log.SetOutput(f)
	}
	return log, nil
}

// NewTelemetryLogger builds the secondary zap logger used on the
// reconciliation and metrics hot path, where structured low-allocation
// logging matters more than logrus's plugin ecosystem.
func NewTelemetryLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	return cfg.Build()
}

// WithLogger returns a context carrying log, replacing any previously
// attached logger. The execution core threads its logger this way rather
// than through a package-level singleton.
func WithLogger(ctx context.Context, log *logrus.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger attached to ctx, or a default logger if
// none was attached.
func FromContext(ctx context.Context) *logrus.Logger {
	if log, ok := ctx.Value(loggerKey).(*logrus.Logger); ok {
		return log
	}
	return logrus.StandardLogger()
}
