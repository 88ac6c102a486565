package application

import (
	"context"
	"strings"
	"testing"
	"time"

	"payflow/internal/domain"
	"payflow/internal/events"
)

func TestRecorderInsertsNewRecord(t *testing.T) {
	store, _ := newTestStore()
	bus := events.NewBus()
	NewRecorder(store, testWallet, discardLogger()).Attach(bus)

	bus.Publish(events.TransactionEvent{
		Hash:         "0x1",
		Type:         domain.TxTypePayment,
		FunctionName: "deposit",
		To:           "0xflow",
		Amount:       "25",
		Status:       domain.TxStatusPending,
	})

	records := store.History(context.Background(), testWallet)
	if len(records) != 1 {
		t.Fatalf("history length = %d, want 1", len(records))
	}
	if records[0].Description != "Deposited funds" {
		t.Errorf("description = %q, want Deposited funds", records[0].Description)
	}
	if records[0].Amount != "25" || records[0].To != "0xflow" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestRecorderResolvesKnownHash(t *testing.T) {
	store, _ := newTestStore()
	bus := events.NewBus()
	NewRecorder(store, testWallet, discardLogger()).Attach(bus)

	bus.Publish(events.TransactionEvent{
		Hash:         "0x1",
		Type:         domain.TxTypeFlowCreation,
		FunctionName: "createMilestoneFlow",
		Status:       domain.TxStatusPending,
	})
	bus.Publish(events.TransactionEvent{
		Hash:   "0x1",
		Type:   domain.TxTypeFlowCreation,
		Status: domain.TxStatusSuccess,
	})

	records := store.History(context.Background(), testWallet)
	if len(records) != 1 {
		t.Fatalf("history length = %d, want 1 (resolved in place)", len(records))
	}
	if records[0].Status != domain.TxStatusSuccess {
		t.Errorf("status = %s, want success", records[0].Status)
	}
	// The confirmation event carries no function name; the original
	// description must survive.
	if records[0].Description != "Created milestone flow" {
		t.Errorf("description = %q, want Created milestone flow", records[0].Description)
	}
}

func TestRecorderSynthesizesLocalHash(t *testing.T) {
	store, _ := newTestStore()
	bus := events.NewBus()
	NewRecorder(store, testWallet, discardLogger()).Attach(bus)

	bus.Publish(events.TransactionEvent{
		Type:         domain.TxTypeFlowCreation,
		FunctionName: "createFlow",
		Status:       domain.TxStatusFailed,
		Error:        "invalid amount",
	})

	records := store.History(context.Background(), testWallet)
	if len(records) != 1 {
		t.Fatalf("history length = %d, want 1", len(records))
	}
	if !strings.HasPrefix(records[0].Hash, "local-") {
		t.Errorf("hash = %q, want synthetic local- prefix", records[0].Hash)
	}
	if records[0].Error != "invalid amount" {
		t.Errorf("error = %q", records[0].Error)
	}
}

func TestRecorderDescriptions(t *testing.T) {
	cases := []struct {
		event events.TransactionEvent
		want  string
	}{
		{events.TransactionEvent{FunctionName: "createSplitFlow"}, "Created split flow"},
		{events.TransactionEvent{FunctionName: "createRecurringFlow"}, "Created recurring flow"},
		{events.TransactionEvent{FunctionName: "addMilestone"}, "Added milestone"},
		{events.TransactionEvent{FunctionName: "markMilestoneComplete"}, "Marked milestone complete"},
		{events.TransactionEvent{FunctionName: "executeMilestonePayment"}, "Executed milestone payment"},
		{events.TransactionEvent{FunctionName: "executeSplitPayment"}, "Executed split payment"},
		{events.TransactionEvent{FunctionName: "pause"}, "Paused flow"},
		{events.TransactionEvent{FunctionName: "cancel"}, "Cancelled flow"},
		{events.TransactionEvent{FunctionName: "createApproval"}, "Created approval request"},
		{events.TransactionEvent{FunctionName: "approve", Type: domain.TxTypeApproval, To: "0xspender"}, "Approved token spending"},
		{events.TransactionEvent{FunctionName: "approve", Type: domain.TxTypeApproval}, "Gave approval"},
		{events.TransactionEvent{Type: domain.TxTypePayment}, "Payment"},
		{events.TransactionEvent{}, "Transaction"},
	}
	for _, tc := range cases {
		if got := describe(tc.event); got != tc.want {
			t.Errorf("describe(%q/%s) = %q, want %q", tc.event.FunctionName, tc.event.Type, got, tc.want)
		}
	}
}

func TestRecorderUnsubscribe(t *testing.T) {
	store, _ := newTestStore()
	bus := events.NewBus()
	detach := NewRecorder(store, testWallet, discardLogger()).Attach(bus)
	detach()

	bus.Publish(events.TransactionEvent{Hash: "0x1", Status: domain.TxStatusPending})

	if records := store.History(context.Background(), testWallet); len(records) != 0 {
		t.Errorf("detached recorder still wrote history")
	}
}

func TestRecorderTimestamps(t *testing.T) {
	store, _ := newTestStore()
	recorder := NewRecorder(store, testWallet, discardLogger())
	fixed := time.UnixMilli(1700000000000)
	recorder.now = func() time.Time { return fixed }
	bus := events.NewBus()
	recorder.Attach(bus)

	bus.Publish(events.TransactionEvent{Hash: "0x1", Status: domain.TxStatusPending})

	// History filters on age, so pin the store clock too.
	store.now = func() time.Time { return fixed }
	records := store.History(context.Background(), testWallet)
	if len(records) != 1 || records[0].Timestamp != fixed.UnixMilli() {
		t.Errorf("records = %+v, want timestamp %d", records, fixed.UnixMilli())
	}
}
