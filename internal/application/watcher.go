package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"payflow/internal/codec"
	"payflow/internal/domain"
)

// Watcher polls the chain for factory and approval-manager events and
// folds the ones concerning the tracked address into the local caches:
// pending-approval bookmarks, optimistic flow metadata, and the activity
// feed. It also drops memoized reads touched by each event.
type Watcher struct {
	source   EventSource
	store    *LocalStore
	cache    CacheInvalidator
	sink     ActivitySink
	observer Observer
	wallet   string
	interval time.Duration
	log      *slog.Logger
}

func NewWatcher(source EventSource, store *LocalStore, cache CacheInvalidator, sink ActivitySink, observer Observer, wallet string, interval time.Duration, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		source:   source,
		store:    store,
		cache:    cache,
		sink:     sink,
		observer: observer,
		wallet:   codec.NormalizeAddress(wallet),
		interval: interval,
		log:      log,
	}
}

// Run polls from the head observed at startup until ctx ends. Earlier
// blocks are not replayed; startup state comes from the local store.
func (w *Watcher) Run(ctx context.Context) error {
	lastSeen, err := w.source.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read chain head: %w", err)
	}
	w.log.Info("watcher started", "from_block", lastSeen, "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.interval):
		}

		head, err := w.source.LatestBlockNumber(ctx)
		if err != nil {
			w.log.Warn("chain head read failed", "error", err)
			continue
		}
		w.observer.OnLatestBlock(head)
		if head <= lastSeen {
			continue
		}

		chainEvents, err := w.source.FilterEvents(ctx, lastSeen+1, head)
		if err != nil {
			w.log.Warn("event filter failed", "from", lastSeen+1, "to", head, "error", err)
			continue
		}
		for _, event := range chainEvents {
			w.handle(ctx, event)
		}
		lastSeen = head
	}
}

func (w *Watcher) handle(ctx context.Context, event domain.ChainEvent) {
	switch event.Type {
	case domain.EventFlowCreated:
		w.handleFlowCreated(ctx, event)
	case domain.EventApprovalCreated:
		w.handleApprovalCreated(ctx, event)
	case domain.EventApprovalGiven:
		w.handleApprovalGiven(ctx, event)
	case domain.EventThresholdMet:
		w.handleThresholdMet(ctx, event)
	}
}

func (w *Watcher) handleFlowCreated(ctx context.Context, event domain.ChainEvent) {
	w.cache.InvalidateOwners(ctx)
	if event.Owner != w.wallet {
		return
	}
	// Seed the default name now so the flow renders labeled immediately.
	if err := w.store.SetMetadata(ctx, w.wallet, event.FlowAddress, MetadataUpdate{}); err != nil {
		w.log.Warn("metadata seed failed", "flow", event.FlowAddress, "error", err)
	}
	item := domain.ActivityItem{
		ID:          fmt.Sprintf("flow-%s-%d", event.FlowAddress, event.BlockNumber),
		Type:        domain.ActivityFlowCreated,
		Title:       "Flow created",
		Description: fmt.Sprintf("%s flow %s created with %s MNEE", event.FlowType.Label(), codec.ShortAddress(event.FlowAddress), codec.FormatAmount(event.Amount)),
		Status:      string(domain.TxStatusSuccess),
		TxHash:      event.TxHash,
	}
	w.addActivity(ctx, item)
}

func (w *Watcher) handleApprovalCreated(ctx context.Context, event domain.ChainEvent) {
	listed := false
	for _, approver := range event.Approvers {
		if approver == w.wallet {
			listed = true
			break
		}
	}
	if !listed {
		return
	}
	err := w.store.AddPendingApproval(ctx, w.wallet, domain.PendingApproval{
		ApprovalID:        event.ApprovalID,
		RequiredApprovals: event.RequiredApprovals,
	})
	if err != nil {
		w.log.Warn("pending approval store failed", "approval_id", event.ApprovalID, "error", err)
		return
	}
	w.observer.OnApprovalObserved()
}

func (w *Watcher) handleApprovalGiven(ctx context.Context, event domain.ChainEvent) {
	w.cache.InvalidateApproval(ctx, event.ApprovalID)
	if event.Approver != w.wallet {
		return
	}
	item := domain.ActivityItem{
		ID:          fmt.Sprintf("approval-%d-%d", event.ApprovalID, event.BlockNumber),
		Type:        domain.ActivityApproval,
		Title:       "Approval given",
		Description: fmt.Sprintf("Approved request #%d", event.ApprovalID),
		Status:      string(domain.TxStatusSuccess),
		TxHash:      event.TxHash,
	}
	w.addActivity(ctx, item)
}

func (w *Watcher) addActivity(ctx context.Context, item domain.ActivityItem) {
	if err := w.store.AddActivity(ctx, w.wallet, item); err != nil {
		w.log.Warn("activity append failed", "error", err)
		return
	}
	if w.sink == nil {
		return
	}
	if err := w.sink.PublishActivity(ctx, w.wallet, item); err != nil {
		w.log.Warn("activity mirror failed", "id", item.ID, "error", err)
	}
}

func (w *Watcher) handleThresholdMet(ctx context.Context, event domain.ChainEvent) {
	w.cache.InvalidateApproval(ctx, event.ApprovalID)
	if err := w.store.RemovePendingApproval(ctx, w.wallet, event.ApprovalID); err != nil {
		w.log.Warn("pending approval removal failed", "approval_id", event.ApprovalID, "error", err)
		return
	}
	w.observer.OnApprovalResolved()
}
