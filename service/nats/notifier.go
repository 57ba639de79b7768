package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/folio/service/metrics"
	"github.com/brojonat/folio/service/portfolio"
)

// publishTimeout bounds a single publish so a slow broker never stalls aggregation.
const publishTimeout = 2 * time.Second

// Notifier forwards aggregator events to a Publisher.
// Publish failures are logged and counted; they never reach the aggregator.
type Notifier struct {
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewNotifier creates a Notifier. If metrics is nil, no metrics will be recorded.
func NewNotifier(publisher Publisher, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	return &Notifier{publisher: publisher, metrics: m, logger: logger}
}

// Notify implements portfolio.Notifier.
func (n *Notifier) Notify(ctx context.Context, e portfolio.Event) {
	if e.Account == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	start := time.Now()
	err := n.publisher.PublishEvent(ctx, FromPortfolioEvent(e))

	status := "success"
	if err != nil {
		status = "error"
		n.logger.WarnContext(ctx, "failed to publish portfolio event",
			"type", string(e.Type),
			"account", e.Account,
			"error", err,
		)
	}
	if n.metrics != nil {
		n.metrics.RecordNATSPublish(string(e.Type), status, time.Since(start).Seconds())
	}
}
