package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"payflow/internal/domain"
	"payflow/internal/events"
)

type countingObserver struct {
	blocks   []uint64
	observed int
	resolved int
	sweeps   int
}

func (o *countingObserver) OnLatestBlock(block uint64) { o.blocks = append(o.blocks, block) }
func (o *countingObserver) OnApprovalObserved()        { o.observed++ }
func (o *countingObserver) OnApprovalResolved()        { o.resolved++ }
func (o *countingObserver) OnReconcileSweep()          { o.sweeps++ }

func newTestReconciler(chain *mockChain, store *LocalStore, bus *events.Bus, observer Observer) *Reconciler {
	return NewReconciler(chain, chain, store, bus, observer, testWallet, time.Second, discardLogger())
}

func TestSweepResolvesConfirmedTransactions(t *testing.T) {
	chain := newMockChain()
	store, _ := newTestStore()
	bus := events.NewBus()
	ctx := context.Background()

	record := domain.TransactionRecord{Hash: "0xabc", Status: domain.TxStatusPending, Timestamp: time.Now().UnixMilli()}
	if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
		t.Fatalf("RecordTransaction error: %v", err)
	}
	chain.txStatuses["0xabc"] = domain.TxStatusSuccess

	var published []events.TransactionEvent
	bus.Subscribe(func(event events.TransactionEvent) { published = append(published, event) })

	newTestReconciler(chain, store, bus, nil).Sweep(ctx)

	records := store.History(ctx, testWallet)
	if records[0].Status != domain.TxStatusSuccess {
		t.Errorf("record status = %s, want success", records[0].Status)
	}
	if len(published) != 1 || published[0].Status != domain.TxStatusSuccess {
		t.Errorf("published = %+v, want one success event", published)
	}
}

func TestSweepMarksRevertedTransactions(t *testing.T) {
	chain := newMockChain()
	store, _ := newTestStore()
	bus := events.NewBus()
	ctx := context.Background()

	record := domain.TransactionRecord{Hash: "0xdead", Status: domain.TxStatusPending, Timestamp: time.Now().UnixMilli()}
	if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
		t.Fatalf("RecordTransaction error: %v", err)
	}
	chain.txStatuses["0xdead"] = domain.TxStatusFailed

	newTestReconciler(chain, store, bus, nil).Sweep(ctx)

	records := store.History(ctx, testWallet)
	if records[0].Status != domain.TxStatusFailed {
		t.Errorf("record status = %s, want failed", records[0].Status)
	}
	if records[0].Error == "" {
		t.Errorf("failed record has no error message")
	}
}

func TestSweepLeavesUnminedTransactionsPending(t *testing.T) {
	chain := newMockChain()
	store, _ := newTestStore()
	ctx := context.Background()

	record := domain.TransactionRecord{Hash: "0xwait", Status: domain.TxStatusPending, Timestamp: time.Now().UnixMilli()}
	if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
		t.Fatalf("RecordTransaction error: %v", err)
	}

	newTestReconciler(chain, store, events.NewBus(), nil).Sweep(ctx)

	if records := store.History(ctx, testWallet); records[0].Status != domain.TxStatusPending {
		t.Errorf("record status = %s, want still pending", records[0].Status)
	}
}

func TestSweepRemovesSatisfiedApprovals(t *testing.T) {
	chain := newMockChain()
	store, _ := newTestStore()
	ctx := context.Background()
	observer := &countingObserver{}

	if err := store.AddPendingApproval(ctx, testWallet, domain.PendingApproval{ApprovalID: 7}); err != nil {
		t.Fatalf("AddPendingApproval error: %v", err)
	}
	chain.approvalStatuses[7] = domain.ApprovalStatus{ID: 7, Count: 2, Required: 2}

	newTestReconciler(chain, store, events.NewBus(), observer).Sweep(ctx)

	if approvals := store.PendingApprovals(ctx, testWallet); len(approvals) != 0 {
		t.Errorf("pending approvals = %+v, want empty", approvals)
	}
	if observer.resolved != 1 {
		t.Errorf("resolved callbacks = %d, want 1", observer.resolved)
	}
	if observer.sweeps != 1 {
		t.Errorf("sweep callbacks = %d, want 1", observer.sweeps)
	}
}

func TestSweepKeepsUnsatisfiedApprovals(t *testing.T) {
	chain := newMockChain()
	store, _ := newTestStore()
	ctx := context.Background()

	if err := store.AddPendingApproval(ctx, testWallet, domain.PendingApproval{ApprovalID: 7}); err != nil {
		t.Fatalf("AddPendingApproval error: %v", err)
	}
	chain.approvalStatuses[7] = domain.ApprovalStatus{ID: 7, Count: 1, Required: 2}

	newTestReconciler(chain, store, events.NewBus(), nil).Sweep(ctx)

	if approvals := store.PendingApprovals(ctx, testWallet); len(approvals) != 1 {
		t.Errorf("pending approvals = %+v, want kept", approvals)
	}
}

func TestSweepFailsOpenOnApprovalReadError(t *testing.T) {
	chain := newMockChain()
	store, _ := newTestStore()
	ctx := context.Background()

	if err := store.AddPendingApproval(ctx, testWallet, domain.PendingApproval{ApprovalID: 7}); err != nil {
		t.Fatalf("AddPendingApproval error: %v", err)
	}
	chain.approvalErr = errors.New("rpc timeout")

	newTestReconciler(chain, store, events.NewBus(), nil).Sweep(ctx)

	if approvals := store.PendingApprovals(ctx, testWallet); len(approvals) != 1 {
		t.Errorf("pending approvals = %+v, want kept on read error", approvals)
	}
}

func TestSweepSkipsStatusReadErrors(t *testing.T) {
	chain := newMockChain()
	store, _ := newTestStore()
	ctx := context.Background()

	record := domain.TransactionRecord{Hash: "0xerr", Status: domain.TxStatusPending, Timestamp: time.Now().UnixMilli()}
	if err := store.RecordTransaction(ctx, testWallet, record); err != nil {
		t.Fatalf("RecordTransaction error: %v", err)
	}
	chain.statusErr = errors.New("rpc timeout")

	newTestReconciler(chain, store, events.NewBus(), nil).Sweep(ctx)

	if records := store.History(ctx, testWallet); records[0].Status != domain.TxStatusPending {
		t.Errorf("record status = %s, want untouched on read error", records[0].Status)
	}
}
