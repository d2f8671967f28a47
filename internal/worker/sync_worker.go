// Package worker mirrors ledger events into the spreadsheet export.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/sheets"
	"fintrack/internal/storage"
)

// SyncWorker applies ledger events to a sheets.Exporter.
type SyncWorker struct {
	exporter sheets.Exporter
	logger   *log.Logger

	mu         sync.Mutex
	balanceSeq uint64
}

func NewSyncWorker(exporter sheets.Exporter, logger *log.Logger) *SyncWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &SyncWorker{exporter: exporter, logger: logger.WithComponent(log.ComponentWorker)}
}

// HandleEvent processes a single ledger event from AMQP. Exporter writes are
// idempotent, so redelivered messages are harmless.
func (w *SyncWorker) HandleEvent(ctx context.Context, msg *amqp.EventMessage) error {
	w.logger.InfoContext(ctx, "Processing event", "id", msg.ID, "kind", msg.Kind)

	switch msg.Kind {
	case core.EventTransactionCreated:
		return w.syncTransaction(ctx, *msg.Transaction)
	case core.EventTransactionDeleted:
		return w.deleteTransaction(ctx, msg.Transaction.ID)
	case core.EventBalanceUpdated:
		return w.syncBalanceEvent(ctx, msg.Seq, msg.Balance)
	default:
		return fmt.Errorf("unsupported event kind %q", msg.Kind)
	}
}

func (w *SyncWorker) syncTransaction(ctx context.Context, t core.Transaction) error {
	ref, err := w.exporter.AppendTransaction(ctx, t)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", t.ID, err)
	}
	w.logger.InfoContext(ctx, "Synced transaction",
		log.FieldTransactionID, t.ID,
		log.FieldType, string(t.Type),
		log.FieldSheetsRef, ref)
	return nil
}

func (w *SyncWorker) deleteTransaction(ctx context.Context, id string) error {
	found, err := w.exporter.DeleteTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if !found {
		w.logger.WarnContext(ctx, "Transaction not present in export", log.FieldTransactionID, id)
		return nil
	}
	w.logger.InfoContext(ctx, "Deleted transaction from export", log.FieldTransactionID, id)
	return nil
}

// syncBalanceEvent writes the balance unless a later balance event has
// already been applied. Events without a sequence number are always applied.
func (w *SyncWorker) syncBalanceEvent(ctx context.Context, seq uint64, balance core.Money) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq != 0 && seq <= w.balanceSeq {
		w.logger.InfoContext(ctx, "Skipping stale balance event",
			"seq", seq,
			"applied_seq", w.balanceSeq,
			log.FieldBalanceCents, balance.Cents)
		return nil
	}
	if err := w.syncBalance(ctx, balance); err != nil {
		return err
	}
	if seq != 0 {
		w.balanceSeq = seq
	}
	return nil
}

func (w *SyncWorker) syncBalance(ctx context.Context, balance core.Money) error {
	if err := w.exporter.WriteBalance(ctx, balance); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	w.logger.InfoContext(ctx, "Synced balance", log.FieldBalanceCents, balance.Cents)
	return nil
}

// ReconcileResult counts the outcome of a startup reconcile.
type ReconcileResult struct {
	Total   int
	Synced  int
	Removed int
	Errors  int
}

// Reconcile makes the export match a full snapshot. It recovers from missed
// AMQP messages or worker downtime: rows whose transaction is gone are
// deleted and missing rows appended. Individual failures are counted and
// logged; only failing to list the export or to write the balance aborts.
func (w *SyncWorker) Reconcile(ctx context.Context, snap core.Snapshot) (ReconcileResult, error) {
	res := ReconcileResult{Total: len(snap.Transactions)}

	exported, err := w.exporter.ListTransactionIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("list exported transactions: %w", err)
	}
	live := make(map[string]struct{}, len(snap.Transactions))
	for _, t := range snap.Transactions {
		live[t.ID] = struct{}{}
	}
	for _, id := range exported {
		if _, ok := live[id]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := w.deleteTransaction(ctx, id); err != nil {
			w.logger.ErrorContext(ctx, "Failed to remove stale row during startup",
				log.FieldTransactionID, id, log.FieldError, err.Error())
			res.Errors++
			continue
		}
		res.Removed++
	}

	// Oldest first so appended rows read chronologically.
	for i := len(snap.Transactions) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		t := snap.Transactions[i]
		if err := w.syncTransaction(ctx, t); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync transaction during startup",
				log.FieldTransactionID, t.ID, log.FieldError, err.Error())
			res.Errors++
			continue
		}
		res.Synced++
	}

	if err := w.syncBalance(ctx, snap.CurrentBalance); err != nil {
		return res, err
	}

	w.logger.InfoContext(ctx, "Startup sync completed",
		log.FieldOperation, log.OpSync,
		"total", res.Total,
		"synced", res.Synced,
		"removed", res.Removed,
		"errors", res.Errors)
	return res, nil
}

// StartupSync reads the persisted snapshot and reconciles it. A missing
// snapshot means the app has not run yet and is not an error.
func (w *SyncWorker) StartupSync(ctx context.Context, backend storage.SnapshotStore) error {
	snap, err := ledger.ReadSnapshot(ctx, backend)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.InfoContext(ctx, "No snapshot found on startup", log.FieldOperation, log.OpStartup)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	_, err = w.Reconcile(ctx, snap)
	return err
}
