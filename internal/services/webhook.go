package services

import (
	"context"
	"errors"

	applog "bizxpense/internal/log"
)

// WebhookTransactions is the webhook type carrying transaction update notices.
const WebhookTransactions = "TRANSACTIONS"

var syncWebhookCodes = map[string]struct{}{
	"SYNC_UPDATES_AVAILABLE": {},
	"INITIAL_UPDATE":         {},
	"HISTORICAL_UPDATE":      {},
	"DEFAULT_UPDATE":         {},
}

// WebhookEvent is the subset of an aggregator webhook the receiver acts on.
type WebhookEvent struct {
	Type   string `json:"webhook_type"`
	Code   string `json:"webhook_code"`
	ItemID string `json:"item_id"`
}

// TriggersSync reports whether the event announces new transaction data.
func (e WebhookEvent) TriggersSync() bool {
	if e.Type != WebhookTransactions || e.ItemID == "" {
		return false
	}
	_, ok := syncWebhookCodes[e.Code]
	return ok
}

// SyncDispatcher hands a sync request for an external item id to a background worker.
type SyncDispatcher interface {
	PublishSyncRequest(ctx context.Context, externalItemID, reason string) error
}

// WebhookReceiver turns aggregator notifications into item syncs.
type WebhookReceiver struct {
	engine     *SyncEngine
	dispatcher SyncDispatcher
}

// NewWebhookReceiver syncs inline when dispatcher is nil.
func NewWebhookReceiver(engine *SyncEngine, dispatcher SyncDispatcher) *WebhookReceiver {
	return &WebhookReceiver{engine: engine, dispatcher: dispatcher}
}

// Receive handles one event. Unknown items are logged and ignored; sync
// failures are returned for the caller to log.
func (w *WebhookReceiver) Receive(ctx context.Context, evt WebhookEvent) error {
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentWebhook)
	logger.InfoContext(ctx, "Webhook received",
		applog.FieldWebhookType, evt.Type,
		applog.FieldWebhookCode, evt.Code,
		applog.FieldExternalItemID, evt.ItemID)

	if !evt.TriggersSync() {
		return nil
	}

	if w.dispatcher != nil {
		err := w.dispatcher.PublishSyncRequest(ctx, evt.ItemID, evt.Code)
		if err == nil {
			return nil
		}
		logger.WarnContext(ctx, "Failed to queue sync request, syncing inline",
			applog.FieldExternalItemID, evt.ItemID,
			applog.FieldError, err)
	}

	res, err := w.engine.SyncByExternalItemID(ctx, evt.ItemID)
	if errors.Is(err, ErrItemNotFound) {
		logger.WarnContext(ctx, "Webhook for unknown item", applog.FieldExternalItemID, evt.ItemID)
		return nil
	}
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Webhook sync completed",
		applog.FieldExternalItemID, evt.ItemID,
		applog.FieldAdded, res.Added,
		applog.FieldModified, res.Modified,
		applog.FieldRemoved, res.Removed)
	return nil
}
