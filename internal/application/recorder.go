package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"payflow/internal/domain"
	"payflow/internal/events"
)

// Recorder folds transaction lifecycle events into the history cache.
// A known hash only has its status resolved, preserving the original
// description; a new hash becomes a fresh record. Failures without a
// hash (rejected before broadcast) get a synthetic local id so the
// attempt still shows up in history.
type Recorder struct {
	store  *LocalStore
	wallet string
	log    *slog.Logger
	now    func() time.Time
}

func NewRecorder(store *LocalStore, wallet string, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, wallet: wallet, log: log, now: time.Now}
}

// Attach subscribes the recorder to the bus, returning the unsubscribe
// function. Register before any producer runs; the bus does not replay.
func (r *Recorder) Attach(bus *events.Bus) func() {
	return bus.Subscribe(r.Record)
}

func (r *Recorder) Record(event events.TransactionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if event.Hash != "" {
		found, err := r.store.ResolveTransaction(ctx, r.wallet, event.Hash, event.Status, event.Error)
		if err != nil {
			r.log.Warn("history update failed", "hash", event.Hash, "error", err)
			return
		}
		if found {
			return
		}
	}

	record := domain.TransactionRecord{
		Hash:        event.Hash,
		Type:        event.Type,
		Status:      event.Status,
		Timestamp:   r.now().UnixMilli(),
		Description: describe(event),
		Amount:      event.Amount,
		To:          event.To,
		Error:       event.Error,
	}
	if record.Hash == "" {
		record.Hash = fmt.Sprintf("local-%d", r.now().UnixNano())
	}
	if err := r.store.RecordTransaction(ctx, r.wallet, record); err != nil {
		r.log.Warn("history insert failed", "hash", record.Hash, "error", err)
	}
}

func describe(event events.TransactionEvent) string {
	switch event.FunctionName {
	case "createMilestoneFlow":
		return "Created milestone flow"
	case "createSplitFlow":
		return "Created split flow"
	case "createRecurringFlow":
		return "Created recurring flow"
	case "deposit":
		return "Deposited funds"
	case "addMilestone":
		return "Added milestone"
	case "addSplit":
		return "Added split recipient"
	case "markMilestoneComplete":
		return "Marked milestone complete"
	case "executeMilestonePayment":
		return "Executed milestone payment"
	case "executeSplitPayment":
		return "Executed split payment"
	case "pause":
		return "Paused flow"
	case "resume":
		return "Resumed flow"
	case "cancel":
		return "Cancelled flow"
	case "createApproval":
		return "Created approval request"
	case "approve":
		if event.Type == domain.TxTypeApproval && event.To != "" {
			return "Approved token spending"
		}
		return "Gave approval"
	}
	switch event.Type {
	case domain.TxTypeFlowCreation:
		return "Flow creation"
	case domain.TxTypeApproval:
		return "Approval"
	case domain.TxTypePayment:
		return "Payment"
	case domain.TxTypeMilestone:
		return "Milestone update"
	case domain.TxTypeSplit:
		return "Split update"
	}
	return "Transaction"
}
