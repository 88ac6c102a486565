package application

import (
	"context"
	"log/slog"
	"time"

	"payflow/internal/codec"
	"payflow/internal/domain"
	"payflow/internal/events"
)

// Reconciler re-checks cached pending state against the chain on a fixed
// interval: history records still pending get their receipts resolved,
// and pending-approval bookmarks are dropped once the on-chain request
// is satisfied. Approval reads that fail leave the bookmark in place; a
// transient RPC error must never silently lose a legitimately pending
// approval.
type Reconciler struct {
	status   StatusReader
	reader   ChainReader
	store    *LocalStore
	bus      *events.Bus
	observer Observer
	wallet   string
	interval time.Duration
	log      *slog.Logger
}

func NewReconciler(status StatusReader, reader ChainReader, store *LocalStore, bus *events.Bus, observer Observer, wallet string, interval time.Duration, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reconciler{
		status:   status,
		reader:   reader,
		store:    store,
		bus:      bus,
		observer: observer,
		wallet:   codec.NormalizeAddress(wallet),
		interval: interval,
		log:      log,
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.log.Info("reconciler started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		r.Sweep(ctx)
	}
}

// Sweep runs one reconciliation pass. Exposed for tests and for a final
// pass on shutdown.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.sweepTransactions(ctx)
	r.sweepApprovals(ctx)
	r.observer.OnReconcileSweep()
}

func (r *Reconciler) sweepTransactions(ctx context.Context) {
	for _, record := range r.store.PendingTransactions(ctx, r.wallet) {
		status, found, err := r.status.TransactionStatus(ctx, record.Hash)
		if err != nil {
			r.log.Warn("receipt lookup failed", "hash", record.Hash, "error", err)
			continue
		}
		if !found {
			continue
		}
		errMsg := ""
		if status == domain.TxStatusFailed {
			errMsg = (&domain.RevertError{Hash: record.Hash}).Error()
		}
		if _, err := r.store.ResolveTransaction(ctx, r.wallet, record.Hash, status, errMsg); err != nil {
			r.log.Warn("pending record resolve failed", "hash", record.Hash, "error", err)
			continue
		}
		r.bus.Publish(events.TransactionEvent{
			Hash:   record.Hash,
			Type:   record.Type,
			To:     record.To,
			Amount: record.Amount,
			Status: status,
			Error:  errMsg,
		})
	}
}

func (r *Reconciler) sweepApprovals(ctx context.Context) {
	for _, pending := range r.store.PendingApprovals(ctx, r.wallet) {
		status, err := r.reader.ApprovalStatus(ctx, pending.ApprovalID)
		if err != nil {
			// Fail open: keep the bookmark.
			r.log.Warn("approval status read failed", "approval_id", pending.ApprovalID, "error", err)
			continue
		}
		if !status.Satisfied() {
			continue
		}
		if err := r.store.RemovePendingApproval(ctx, r.wallet, pending.ApprovalID); err != nil {
			r.log.Warn("pending approval removal failed", "approval_id", pending.ApprovalID, "error", err)
			continue
		}
		r.observer.OnApprovalResolved()
	}
}
