// Package worker consumes queued sync requests and runs them against the sync engine.
package worker

import (
	"context"
	"errors"
	"fmt"

	"bizxpense/internal/aggregator"
	"bizxpense/internal/amqp"
	applog "bizxpense/internal/log"
	"bizxpense/internal/services"
)

// ItemSyncer is the part of the sync engine the worker drives.
type ItemSyncer interface {
	SyncByExternalItemID(ctx context.Context, externalItemID string) (services.SyncResult, error)
}

// SyncWorker handles sync requests published by the webhook receiver
type SyncWorker struct {
	engine ItemSyncer
}

func NewSyncWorker(engine ItemSyncer) *SyncWorker {
	return &SyncWorker{engine: engine}
}

// HandleSyncRequest syncs the item named by msg. Requests that can never
// succeed (unknown item, item needing re-authentication) return nil so the
// message is acknowledged instead of requeued.
func (w *SyncWorker) HandleSyncRequest(ctx context.Context, msg *amqp.SyncRequestMessage) error {
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentWorker)
	logger.InfoContext(ctx, "Processing sync request",
		applog.FieldExternalItemID, msg.ItemID,
		"reason", msg.Reason,
		"queued_at", msg.Timestamp)

	res, err := w.engine.SyncByExternalItemID(ctx, msg.ItemID)
	switch {
	case errors.Is(err, services.ErrItemNotFound):
		logger.WarnContext(ctx, "Sync request for unknown item, dropping",
			applog.FieldExternalItemID, msg.ItemID)
		return nil
	case aggregator.NeedsReauth(err):
		logger.WarnContext(ctx, "Item needs re-authentication, dropping sync request",
			applog.FieldExternalItemID, msg.ItemID,
			applog.FieldError, err)
		return nil
	case err != nil:
		return fmt.Errorf("sync item %s: %w", msg.ItemID, err)
	}

	logger.InfoContext(ctx, "Sync request completed",
		applog.FieldExternalItemID, msg.ItemID,
		applog.FieldAdded, res.Added,
		applog.FieldModified, res.Modified,
		applog.FieldRemoved, res.Removed)
	return nil
}
