package notification

import (
	"context"

	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/observability/metrics"
	"github.com/smallbiznis/appointly/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module expects an email.Provider, supplied by providers.Module.
var Module = fx.Module("notification",
	fx.Provide(newQueue),
	fx.Provide(func(q *Queue) Notifier { return q }),
)

func newQueue(lc fx.Lifecycle, cfg config.Config, provider email.Provider, log *zap.Logger, m *metrics.NotificationMetrics) *Queue {
	queue := NewQueue(QueueConfig{
		Size:        cfg.Notification.QueueSize,
		Workers:     cfg.Notification.Workers,
		MaxAttempts: cfg.Notification.MaxAttempts,
	}, provider, log, m)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			queue.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return queue.Stop(ctx)
		},
	})
	return queue
}
