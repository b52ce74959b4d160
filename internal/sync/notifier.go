package sync

import (
	"context"

	"go.uber.org/zap"

	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/metrics"
	"xero-sync-service/internal/shop"
)

// Event describes a finished sync for notification hooks.
type Event struct {
	EntityType shop.EntityType
	LocalID    int64
	RemoteID   string
	Action     Action
	Error      string
}

// Notifier is told about every successful or failed sync. Skips are not
// notified.
type Notifier interface {
	Synced(ctx context.Context, e Event)
	Failed(ctx context.Context, e Event)
}

type LogNotifier struct{}

func (LogNotifier) Synced(_ context.Context, e Event) {
	logger.Log.Info("Entity synced",
		zap.String("entity_type", string(e.EntityType)),
		zap.Int64("local_id", e.LocalID),
		zap.String("remote_id", e.RemoteID),
		zap.String("action", string(e.Action)))
}

func (LogNotifier) Failed(_ context.Context, e Event) {
	logger.Log.Warn("Entity sync failed",
		zap.String("entity_type", string(e.EntityType)),
		zap.Int64("local_id", e.LocalID),
		zap.String("error", e.Error))
}

type MetricsNotifier struct{}

func (MetricsNotifier) Synced(_ context.Context, e Event) {
	metrics.SyncTotal.WithLabelValues(string(e.EntityType), string(OutcomeSynced), string(e.Action)).Inc()
}

func (MetricsNotifier) Failed(_ context.Context, e Event) {
	metrics.SyncTotal.WithLabelValues(string(e.EntityType), string(OutcomeFailed), string(e.Action)).Inc()
}

// Notifiers fans out to each notifier in order.
type Notifiers []Notifier

func (n Notifiers) Synced(ctx context.Context, e Event) {
	for _, notifier := range n {
		notifier.Synced(ctx, e)
	}
}

func (n Notifiers) Failed(ctx context.Context, e Event) {
	for _, notifier := range n {
		notifier.Failed(ctx, e)
	}
}
