package worker

import (
	"context"
	"fmt"
	"log/slog"

	"expensetracker/internal/amqp"
	"expensetracker/internal/metrics"
	"expensetracker/internal/ports"
)

// SyncWorker mirrors a user's transactions to an external sheet whenever a
// change message for that user arrives.
type SyncWorker struct {
	store   ports.TransactionStore
	mirror  ports.SnapshotWriter
	metrics *metrics.Metrics
}

func NewSyncWorker(store ports.TransactionStore, mirror ports.SnapshotWriter, m *metrics.Metrics) *SyncWorker {
	return &SyncWorker{
		store:   store,
		mirror:  mirror,
		metrics: m,
	}
}

// HandleChange reloads the full snapshot and rewrites the mirror. The message
// only names the user, so repeated or reordered deliveries converge on the
// same result.
func (w *SyncWorker) HandleChange(ctx context.Context, msg *amqp.TransactionChangedMessage) error {
	slog.InfoContext(ctx, "Processing change message",
		"user_id", msg.UserID,
		"transaction_id", msg.TransactionID,
		"op", msg.Op)

	txs, err := w.store.List(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	err = w.mirror.WriteSnapshot(ctx, msg.UserID, txs)
	w.metrics.MirrorWrite(err)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
