package bootstrap

import (
	"context"
	"log/slog"

	"github.com/target/clinic-session/config"
	"github.com/target/clinic-session/internal/observability/statsd"
)

// BuildMetrics returns a StatsD client. A disabled config yields a client that drops everything.
func BuildMetrics(ctx context.Context, cfg config.ObservabilityMetricsConfig, logger *slog.Logger) (*statsd.Client, error) {
	return statsd.NewClient(ctx, statsd.Config{
		Enabled:    cfg.IsEnabled(),
		Address:    cfg.StatsdAddress,
		Prefix:     cfg.Prefix,
		GlobalTags: cfg.GlobalTags(),
		Logger:     logger,
	})
}
